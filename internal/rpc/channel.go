package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/event"
	"github.com/humansinstitute/ambulando-sub000/internal/relay"
)

// clockSkewMargin backdates the inbound filter slightly so a peer with a
// lagging clock is still heard, without replaying relay backlog.
const clockSkewMargin = 10 * time.Second

// Transport is the slice of the relay pool the channel needs. Test doubles
// implement it to count subscriptions and script peers.
type Transport interface {
	Subscribe(ctx context.Context, f relay.Filter) (*relay.Subscription, error)
	Publish(ctx context.Context, ev *event.Event) error
}

// Request is the plaintext RPC frame sent to the remote signer.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Response is the plaintext RPC frame received back.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Notification is a decoded inbound frame that did not resolve a pending
// request. The set is closed: ConnectAck, AuthChallenge.
type Notification interface{ isNotification() }

// ConnectAck is an unsolicited response carrying the handshake secret.
type ConnectAck struct {
	From   string
	Secret string
}

// AuthChallenge asks the user to approve the request at URL before the
// real response will arrive. It is a state, not a failure.
type AuthChallenge struct {
	From string
	URL  string
}

func (ConnectAck) isNotification()    {}
func (AuthChallenge) isNotification() {}

// Channel is a correlated request/response pipe for one local key pair.
// All map mutation happens under mu; the dispatch goroutine is the only
// reader of the subscription.
type Channel struct {
	log       *logrus.Logger
	transport Transport
	kp        domain.KeyPair
	timeout   time.Duration

	mu       sync.Mutex
	pending  map[string]chan Response
	issued   map[string]struct{}
	convKeys map[string][32]byte
	sub      *relay.Subscription
	closed   bool

	notes chan Notification
	done  chan struct{}
}

// NewChannel builds a channel for the given ephemeral key pair. timeout
// bounds each individual Call.
func NewChannel(t Transport, kp domain.KeyPair, timeout time.Duration, log *logrus.Logger) *Channel {
	return &Channel{
		log:       log,
		transport: t,
		kp:        kp,
		timeout:   timeout,
		pending:   make(map[string]chan Response),
		issued:    make(map[string]struct{}),
		convKeys:  make(map[string][32]byte),
		notes:     make(chan Notification, 8),
		done:      make(chan struct{}),
	}
}

// Listen opens the inbound subscription for envelopes addressed to our
// public key and starts the dispatch loop. Call it once before any Call.
func (c *Channel) Listen(ctx context.Context) error {
	since := time.Now().Add(-clockSkewMargin).Unix()
	sub, err := c.transport.Subscribe(ctx, relay.Filter{
		Kinds: []int{event.KindBridgeRPC},
		P:     []string{c.kp.Public},
		Since: &since,
	})
	if err != nil {
		return fmt.Errorf("opening rpc subscription: %w", err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return domain.ErrSessionClosed
	}
	c.sub = sub
	c.mu.Unlock()

	go c.dispatch(sub)
	return nil
}

// Notifications delivers inbound frames that no pending request claimed.
func (c *Channel) Notifications() <-chan Notification { return c.notes }

// Call encrypts {id, method, params} for peerPub, publishes it, and waits
// for the matching response. It rejects with domain.ErrRequestTimeout when
// the budget elapses, and removes the pending entry either way.
func (c *Channel) Call(ctx context.Context, peerPub, method string, params []string) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return "", fmt.Errorf("encoding %s request: %w", method, err)
	}

	key, err := c.conversationKey(peerPub)
	if err != nil {
		return "", err
	}
	content, err := crypto.EncryptWithKey(key, string(payload))
	if err != nil {
		return "", fmt.Errorf("sealing %s request: %w", method, err)
	}

	ev := event.New(event.KindBridgeRPC, [][]string{{"p", peerPub}}, content)
	if err := ev.Sign(c.kp.Secret); err != nil {
		return "", err
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", domain.ErrSessionClosed
	}
	c.pending[id] = ch
	c.issued[id] = struct{}{}
	c.mu.Unlock()
	defer c.removePending(id)

	if err := c.transport.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("publishing %s request: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return "", fmt.Errorf("remote signer: %s", resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		return "", domain.ErrRequestTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", domain.ErrSessionClosed
	}
}

// PendingRequests reports how many calls are still awaiting a response.
func (c *Channel) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close tears the channel down: the subscription is released and every
// outstanding Call returns ErrSessionClosed. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.mu.Unlock()

	close(c.done)
	if sub != nil {
		sub.Close()
	}
}

func (c *Channel) dispatch(sub *relay.Subscription) {
	for {
		select {
		case ev := <-sub.Events:
			if ev != nil {
				c.handleEnvelope(ev)
			}
		case <-sub.Done():
			return
		case <-c.done:
			return
		}
	}
}

// handleEnvelope decrypts one inbound envelope and routes it. Failures here
// are expected on a shared relay and never propagate.
func (c *Channel) handleEnvelope(ev *event.Event) {
	key, err := c.conversationKey(ev.PubKey)
	if err != nil {
		c.log.Debugf("rpc: sender key %s unusable: %v", ev.PubKey, err)
		return
	}
	plain, err := crypto.DecryptWithKey(key, ev.Content)
	if err != nil {
		// cross-talk from an unrelated exchange
		c.log.Debugf("rpc: envelope %s not for us", ev.ID)
		return
	}

	var resp Response
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		c.log.Debugf("rpc: envelope %s carried malformed json", ev.ID)
		return
	}

	if resp.Result == "auth_url" {
		c.notify(AuthChallenge{From: ev.PubKey, URL: resp.Error})
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	_, ours := c.issued[resp.ID]
	c.mu.Unlock()
	if ok {
		ch <- resp
		return
	}
	if ours {
		// duplicate or late delivery of a call we already settled
		c.log.Debugf("rpc: dropping repeat response for %s", resp.ID)
		return
	}

	// A response to an id we never issued is the signer acknowledging the
	// connection request it received out of band.
	if resp.Result != "" {
		c.notify(ConnectAck{From: ev.PubKey, Secret: resp.Result})
	}
}

func (c *Channel) notify(n Notification) {
	select {
	case c.notes <- n:
	default:
		c.log.Warnf("rpc: notification buffer full, dropped %T", n)
	}
}

func (c *Channel) conversationKey(peerPub string) ([32]byte, error) {
	c.mu.Lock()
	if key, ok := c.convKeys[peerPub]; ok {
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	key, err := crypto.ConversationKey(c.kp.Secret, peerPub)
	if err != nil {
		return key, err
	}
	c.mu.Lock()
	c.convKeys[peerPub] = key
	c.mu.Unlock()
	return key, nil
}

func (c *Channel) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
