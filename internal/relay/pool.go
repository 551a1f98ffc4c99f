package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/event"
)

const (
	dialTimeout     = 10 * time.Second
	subscriptionBuf = 64
)

// Pool multiplexes subscriptions and publications over a set of relay
// endpoints. Inbound events are verified before delivery; a decode or
// signature failure on one message never disturbs the other streams.
type Pool struct {
	log  *logrus.Logger
	urls []string

	mu     sync.Mutex
	conns  map[string]*conn
	subs   map[string]*Subscription
	closed bool
}

type conn struct {
	url     string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewPool prepares a pool for the given relay URLs. No connection is made
// until Connect.
func NewPool(log *logrus.Logger, urls []string) *Pool {
	return &Pool{
		log:   log,
		urls:  urls,
		conns: make(map[string]*conn),
		subs:  make(map[string]*Subscription),
	}
}

// Connect dials every configured relay. It succeeds when at least one
// relay is reachable; unreachable relays are logged and skipped.
func (p *Pool) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	var ok int
	for _, u := range p.urls {
		ws, _, err := dialer.DialContext(ctx, u, nil)
		if err != nil {
			p.log.Warnf("relay %s unreachable: %v", u, err)
			continue
		}
		c := &conn{url: u, ws: ws}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			ws.Close()
			return fmt.Errorf("pool closed")
		}
		p.conns[u] = c
		p.mu.Unlock()
		go p.readLoop(c)
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("no relay reachable out of %d", len(p.urls))
	}
	p.log.Infof("connected to %d/%d relays", ok, len(p.urls))
	return nil
}

// Subscribe registers a filter on every live relay and returns the event
// stream. Cancelling ctx closes the subscription and sends CLOSE frames.
func (p *Pool) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	id := uuid.NewString()[:8]
	sub := NewSubscription(id, subscriptionBuf, func() { p.dropSubscription(id) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool closed")
	}
	p.subs[id] = sub
	conns := p.liveConns()
	p.mu.Unlock()

	if len(conns) == 0 {
		sub.Close()
		return nil, fmt.Errorf("no live relay connection")
	}
	for _, c := range conns {
		if err := c.writeJSON([]any{"REQ", id, f}); err != nil {
			p.log.Warnf("relay %s REQ failed: %v", c.url, err)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// Publish sends the event to every live relay. It succeeds when at least
// one write goes through.
func (p *Pool) Publish(ctx context.Context, ev *event.Event) error {
	p.mu.Lock()
	conns := p.liveConns()
	p.mu.Unlock()

	var ok int
	for _, c := range conns {
		if err := c.writeJSON([]any{"EVENT", ev}); err != nil {
			p.log.Warnf("relay %s publish failed: %v", c.url, err)
			continue
		}
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("publish reached no relay")
	}
	return nil
}

// ActiveSubscriptions reports how many subscriptions are currently open.
func (p *Pool) ActiveSubscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close tears down every subscription and connection. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	conns := p.liveConns()
	p.conns = make(map[string]*conn)
	p.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	for _, c := range conns {
		c.ws.Close()
	}
}

func (p *Pool) liveConns() []*conn {
	out := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

func (p *Pool) dropSubscription(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	conns := p.liveConns()
	p.mu.Unlock()
	for _, c := range conns {
		if err := c.writeJSON([]any{"CLOSE", id}); err != nil {
			p.log.Debugf("relay %s CLOSE failed: %v", c.url, err)
		}
	}
}

// readLoop consumes frames from one relay until its connection drops.
func (p *Pool) readLoop(c *conn) {
	defer func() {
		p.mu.Lock()
		delete(p.conns, c.url)
		p.mu.Unlock()
		c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.log.Warnf("relay %s read: %v", c.url, err)
			}
			return
		}
		p.handleFrame(c, data)
	}
}

func (p *Pool) handleFrame(c *conn, data []byte) {
	label, rest, err := parseFrame(data)
	if err != nil {
		p.log.Debugf("relay %s sent garbage: %v", c.url, err)
		return
	}
	switch label {
	case "EVENT":
		if len(rest) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(rest[0], &subID); err != nil {
			return
		}
		var ev event.Event
		if err := json.Unmarshal(rest[1], &ev); err != nil {
			p.log.Debugf("relay %s event decode: %v", c.url, err)
			return
		}
		if err := ev.Verify(); err != nil {
			p.log.Debugf("relay %s event %s failed verification, dropped", c.url, ev.ID)
			return
		}
		p.mu.Lock()
		sub := p.subs[subID]
		p.mu.Unlock()
		if sub != nil && !sub.Deliver(&ev) {
			p.log.Debugf("subscription %s dropped event %s", subID, ev.ID)
		}
	case "OK":
		p.log.Debugf("relay %s ack: %s", c.url, data)
	case "EOSE":
		// end of stored events; live events follow
	case "CLOSED":
		p.log.Warnf("relay %s closed subscription: %s", c.url, data)
	case "NOTICE":
		p.log.Warnf("relay %s notice: %s", c.url, data)
	}
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}
