package signer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/event"
	"github.com/humansinstitute/ambulando-sub000/internal/rpc"
	"github.com/humansinstitute/ambulando-sub000/internal/util/memzero"
)

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateAwaitingConnect
	StateAuthorizing
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConnect:
		return "awaiting-connect"
	case StateAuthorizing:
		return "authorizing"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Default budgets. Relays and remote signers can be slow; the RPC timeout
// stays well above a typical multi-hop round trip.
const (
	defaultHandshakeBudget = 2 * time.Minute
	defaultRPCTimeout      = 30 * time.Second
)

// Options configures a session. Relays is required; the rest defaults.
type Options struct {
	Relays []string

	// Display metadata embedded in the connection descriptor.
	Name string
	URL  string
	Icon string

	// HandshakeBudget forces AwaitingConnect/Authorizing to Failed when no
	// acknowledgement arrives in time.
	HandshakeBudget time.Duration
	// RPCTimeout bounds each individual call once connected.
	RPCTimeout time.Duration

	// OnAuthURL surfaces an authorization URL the user must open and
	// approve. The session stays pending while they do.
	OnAuthURL func(url string)
}

// Session is the remote-signer handshake state machine. One goroutine owns
// each session; State and the RPC operations are safe to call from others.
type Session struct {
	log       *logrus.Logger
	transport rpc.Transport
	opts      Options

	kp     domain.KeyPair
	secret string

	mu        sync.Mutex
	state     State
	remotePub string
	userPub   string

	ch     *rpc.Channel
	cancel context.CancelFunc
}

// New creates an Idle session with a fresh ephemeral key pair and one-time
// secret, ready to render its connection descriptor.
func New(transport rpc.Transport, opts Options, log *logrus.Logger) (*Session, error) {
	if len(opts.Relays) == 0 {
		return nil, fmt.Errorf("signer session needs at least one relay")
	}
	if opts.HandshakeBudget <= 0 {
		opts.HandshakeBudget = defaultHandshakeBudget
	}
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = defaultRPCTimeout
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generating handshake secret: %w", err)
	}

	return &Session{
		log:       log,
		transport: transport,
		opts:      opts,
		kp:        kp,
		secret:    hex.EncodeToString(secretBytes),
		state:     StateIdle,
	}, nil
}

// Resume rebuilds a Connected session from a persisted snapshot, skipping
// the handshake. The remote signer must still recognize the ephemeral key.
func Resume(transport rpc.Transport, snap domain.SignerSnapshot, opts Options, log *logrus.Logger) (*Session, error) {
	if snap.RemotePub == "" {
		return nil, fmt.Errorf("snapshot has no remote signer key")
	}
	if len(opts.Relays) == 0 {
		opts.Relays = snap.Relays
	}
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = defaultRPCTimeout
	}

	s := &Session{
		log:       log,
		transport: transport,
		opts:      opts,
		kp:        domain.KeyPair{Secret: snap.Secret, Public: snap.Public},
		state:     StateConnected,
		remotePub: snap.RemotePub,
		userPub:   snap.UserPub,
	}
	if err := s.openChannel(); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemotePub returns the remote signer's public key once learned.
func (s *Session) RemotePub() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePub
}

// Connect transitions Idle → AwaitingConnect and blocks until the signer
// acknowledges with the issued secret, the handshake budget expires, or ctx
// is cancelled. On failure the session tears down fully: no subscription or
// pending request survives.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect from state %s", st)
	}
	s.state = StateAwaitingConnect
	s.mu.Unlock()

	if err := s.openChannel(); err != nil {
		s.fail()
		return err
	}

	budget := time.NewTimer(s.opts.HandshakeBudget)
	defer budget.Stop()

	for {
		select {
		case n := <-s.ch.Notifications():
			switch n := n.(type) {
			case rpc.ConnectAck:
				if n.Secret != s.secret {
					// Possible spoof. Ignored, never surfaced.
					s.log.Debugf("signer: acknowledgement with mismatched secret from %s", n.From)
					continue
				}
				s.mu.Lock()
				s.remotePub = n.From
				s.state = StateConnected
				s.mu.Unlock()
				s.log.Infof("signer: connected to %s", n.From)
				return nil
			case rpc.AuthChallenge:
				s.mu.Lock()
				s.state = StateAuthorizing
				s.mu.Unlock()
				s.log.Infof("signer: authorization required")
				if s.opts.OnAuthURL != nil {
					s.opts.OnAuthURL(n.URL)
				}
			}
		case <-budget.C:
			s.fail()
			return fmt.Errorf("waiting for signer acknowledgement: %w", domain.ErrRequestTimeout)
		case <-ctx.Done():
			s.fail()
			return ctx.Err()
		}
	}
}

// PublicKey asks the remote signer for the end-user's public key.
func (s *Session) PublicKey(ctx context.Context) (string, error) {
	remote, err := s.connectedRemote()
	if err != nil {
		return "", err
	}
	result, err := s.ch.Call(ctx, remote, "get_public_key", []string{})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.userPub = result
	s.mu.Unlock()
	return result, nil
}

// SignEvent sends the exact unsigned event to the remote signer and returns
// the signed envelope after verifying it locally.
func (s *Session) SignEvent(ctx context.Context, unsigned *event.Event) (*event.Event, error) {
	remote, err := s.connectedRemote()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding unsigned event: %w", err)
	}
	result, err := s.ch.Call(ctx, remote, "sign_event", []string{string(payload)})
	if err != nil {
		return nil, err
	}
	var signed event.Event
	if err := json.Unmarshal([]byte(result), &signed); err != nil {
		return nil, fmt.Errorf("decoding signed event: %w", err)
	}
	if err := signed.Verify(); err != nil {
		return nil, err
	}
	return &signed, nil
}

// Snapshot captures the state an external store may persist for silent
// reconnection. Call only on a connected session.
func (s *Session) Snapshot() domain.SignerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SignerSnapshot{
		Secret:    s.kp.Secret,
		Public:    s.kp.Public,
		RemotePub: s.remotePub,
		UserPub:   s.userPub,
		Relays:    s.opts.Relays,
	}
}

// Close ends the session: Closed state, channel torn down, ephemeral
// secret wiped. Safe to call from any state, any number of times.
func (s *Session) Close() {
	s.teardown(StateClosed)
}

func (s *Session) fail() {
	s.teardown(StateFailed)
}

func (s *Session) teardown(final State) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = final
	ch := s.ch
	cancel := s.cancel
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if cancel != nil {
		cancel()
	}
	memzero.Zero(s.kp.Secret[:])
}

func (s *Session) openChannel() error {
	ctx, cancel := context.WithCancel(context.Background())
	ch := rpc.NewChannel(s.transport, s.kp, s.opts.RPCTimeout, s.log)
	if err := ch.Listen(ctx); err != nil {
		cancel()
		return err
	}
	s.mu.Lock()
	s.ch = ch
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

func (s *Session) connectedRemote() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return s.remotePub, nil
	case StateClosed, StateFailed:
		return "", domain.ErrSessionClosed
	default:
		return "", domain.ErrNotConnected
	}
}
