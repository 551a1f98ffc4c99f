package signer_test

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/event"
	"github.com/humansinstitute/ambulando-sub000/internal/relay"
	"github.com/humansinstitute/ambulando-sub000/internal/rpc"
	"github.com/humansinstitute/ambulando-sub000/internal/signer"
)

// fakeTransport stands in for the relay pool. The test plays the remote
// signer: it reads published envelopes and delivers scripted replies.
type fakeTransport struct {
	mu        sync.Mutex
	sub       *relay.Subscription
	published chan *event.Event
	active    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: make(chan *event.Event, 8)}
}

func (f *fakeTransport) Subscribe(_ context.Context, _ relay.Filter) (*relay.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
	f.sub = relay.NewSubscription("fake", 16, func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	})
	return f.sub, nil
}

func (f *fakeTransport) Publish(_ context.Context, ev *event.Event) error {
	f.published <- ev
	return nil
}

func (f *fakeTransport) activeSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// waitForSubscription blocks until the session has opened its inbound
// stream, so the test can start delivering.
func (f *fakeTransport) waitForSubscription(t *testing.T) *relay.Subscription {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		sub := f.sub
		f.mu.Unlock()
		if sub != nil {
			return sub
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never subscribed")
	return nil
}

func (f *fakeTransport) deliverResponse(t *testing.T, from domain.KeyPair, toPub string, resp rpc.Response) {
	t.Helper()
	payload, err := json.Marshal(resp)
	require.NoError(t, err)
	content, err := crypto.Encrypt(from.Secret, toPub, string(payload))
	require.NoError(t, err)
	ev := event.New(event.KindBridgeRPC, [][]string{{"p", toPub}}, content)
	require.NoError(t, ev.Sign(from.Secret))
	require.True(t, f.waitForSubscription(t).Deliver(ev))
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// descriptorParts extracts the ephemeral public key and one-time secret the
// signer application would read from the descriptor.
func descriptorParts(t *testing.T, descriptor string) (pub, secret string) {
	t.Helper()
	u, err := url.Parse(descriptor)
	require.NoError(t, err)
	require.Equal(t, "nostrconnect", u.Scheme)
	require.Len(t, u.Host, 64)
	require.NotEmpty(t, u.Query().Get("secret"))
	require.NotEmpty(t, u.Query().Get("relay"))
	return u.Host, u.Query().Get("secret")
}

func newTestSession(t *testing.T, opts signer.Options) (*signer.Session, *fakeTransport) {
	t.Helper()
	if len(opts.Relays) == 0 {
		opts.Relays = []string{"wss://relay.test"}
	}
	transport := newFakeTransport()
	sess, err := signer.New(transport, opts, quietLog())
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess, transport
}

// connectSession drives a full handshake and returns the signer-side key
// pair the test is impersonating.
func connectSession(t *testing.T, sess *signer.Session, transport *fakeTransport) domain.KeyPair {
	t.Helper()
	pub, secret := descriptorParts(t, sess.Descriptor())
	remote, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sess.Connect(context.Background()) }()
	transport.deliverResponse(t, remote, pub, rpc.Response{ID: "ack-1", Result: secret})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	require.Equal(t, signer.StateConnected, sess.State())
	require.Equal(t, remote.Public, sess.RemotePub())
	return remote
}

func TestConnect_Acknowledged(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{})
	connectSession(t, sess, transport)
}

func TestConnect_IgnoresMismatchedSecret(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{})
	pub, secret := descriptorParts(t, sess.Descriptor())
	remote, _ := crypto.GenerateKeyPair()
	imposter, _ := crypto.GenerateKeyPair()

	done := make(chan error, 1)
	go func() { done <- sess.Connect(context.Background()) }()

	// A spoofed acknowledgement must not connect, then the real one does.
	transport.deliverResponse(t, imposter, pub, rpc.Response{ID: "spoof", Result: "wrong-secret"})
	transport.deliverResponse(t, remote, pub, rpc.Response{ID: "ack", Result: secret})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	require.Equal(t, remote.Public, sess.RemotePub(), "imposter must not become the remote signer")
}

func TestConnect_AuthChallenge(t *testing.T) {
	var gotURL string
	authSeen := make(chan struct{})
	sess, transport := newTestSession(t, signer.Options{
		OnAuthURL: func(u string) {
			gotURL = u
			close(authSeen)
		},
	})
	pub, secret := descriptorParts(t, sess.Descriptor())
	remote, _ := crypto.GenerateKeyPair()

	done := make(chan error, 1)
	go func() { done <- sess.Connect(context.Background()) }()

	transport.deliverResponse(t, remote, pub, rpc.Response{ID: "c", Result: "auth_url", Error: "https://signer.example/approve"})
	select {
	case <-authSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("auth URL never surfaced")
	}
	require.Equal(t, "https://signer.example/approve", gotURL)
	require.Equal(t, signer.StateAuthorizing, sess.State())

	transport.deliverResponse(t, remote, pub, rpc.Response{ID: "ack", Result: secret})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after approval")
	}
	require.Equal(t, signer.StateConnected, sess.State())
}

func TestConnect_BudgetExpires(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{HandshakeBudget: 50 * time.Millisecond})

	err := sess.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrRequestTimeout)
	require.Equal(t, signer.StateFailed, sess.State())

	// Teardown must leave nothing listening on the relays.
	require.Equal(t, 0, transport.activeSubscriptions())
}

func TestPublicKey(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{})
	remote := connectSession(t, sess, transport)
	user, _ := crypto.GenerateKeyPair()

	go func() {
		ev := <-transport.published
		plain, err := crypto.Decrypt(remote.Secret, ev.PubKey, ev.Content)
		require.NoError(t, err)
		var req rpc.Request
		require.NoError(t, json.Unmarshal([]byte(plain), &req))
		require.Equal(t, "get_public_key", req.Method)
		transport.deliverResponse(t, remote, ev.PubKey, rpc.Response{ID: req.ID, Result: user.Public})
	}()

	pub, err := sess.PublicKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, user.Public, pub)
}

func TestSignEvent(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{})
	remote := connectSession(t, sess, transport)
	user, _ := crypto.GenerateKeyPair()

	go func() {
		ev := <-transport.published
		plain, err := crypto.Decrypt(remote.Secret, ev.PubKey, ev.Content)
		require.NoError(t, err)
		var req rpc.Request
		require.NoError(t, json.Unmarshal([]byte(plain), &req))
		require.Equal(t, "sign_event", req.Method)
		require.Len(t, req.Params, 1)

		var unsigned event.Event
		require.NoError(t, json.Unmarshal([]byte(req.Params[0]), &unsigned))
		require.NoError(t, unsigned.Sign(user.Secret))
		signedJSON, err := json.Marshal(&unsigned)
		require.NoError(t, err)
		transport.deliverResponse(t, remote, ev.PubKey, rpc.Response{ID: req.ID, Result: string(signedJSON)})
	}()

	signed, err := sess.SignEvent(context.Background(), event.New(1, nil, "journal entry"))
	require.NoError(t, err)
	require.Equal(t, user.Public, signed.PubKey)
	require.NoError(t, signed.Verify())
}

func TestSignEvent_RejectsBadSignature(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{})
	remote := connectSession(t, sess, transport)

	go func() {
		ev := <-transport.published
		plain, err := crypto.Decrypt(remote.Secret, ev.PubKey, ev.Content)
		require.NoError(t, err)
		var req rpc.Request
		require.NoError(t, json.Unmarshal([]byte(plain), &req))

		// A "signed" event whose signature does not hold up.
		forged := event.New(1, nil, "journal entry")
		forged.PubKey = remote.Public
		forged.ID = "00"
		forged.Sig = "00"
		forgedJSON, err := json.Marshal(forged)
		require.NoError(t, err)
		transport.deliverResponse(t, remote, ev.PubKey, rpc.Response{ID: req.ID, Result: string(forgedJSON)})
	}()

	_, err := sess.SignEvent(context.Background(), event.New(1, nil, "journal entry"))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestRPC_RequiresConnection(t *testing.T) {
	sess, _ := newTestSession(t, signer.Options{})
	_, err := sess.PublicKey(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)

	sess.Close()
	_, err = sess.PublicKey(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionClosed)
	require.Equal(t, signer.StateClosed, sess.State())
}

func TestResume(t *testing.T) {
	first, transport := newTestSession(t, signer.Options{})
	remote := connectSession(t, first, transport)
	snap := first.Snapshot()
	require.Equal(t, remote.Public, snap.RemotePub)

	resumed, err := signer.Resume(newFakeTransport(), snap, signer.Options{}, quietLog())
	require.NoError(t, err)
	defer resumed.Close()

	require.Equal(t, signer.StateConnected, resumed.State())
	require.Equal(t, remote.Public, resumed.RemotePub())
}

func TestClose_Idempotent(t *testing.T) {
	sess, transport := newTestSession(t, signer.Options{})
	connectSession(t, sess, transport)

	sess.Close()
	sess.Close()
	require.Equal(t, signer.StateClosed, sess.State())
	require.Equal(t, 0, transport.activeSubscriptions())
}
