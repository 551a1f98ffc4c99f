package relay

import (
	"sync"

	"github.com/humansinstitute/ambulando-sub000/internal/event"
)

// Subscription is one logical inbound stream multiplexed over the pool's
// relay connections. Events are delivered on a buffered channel; a slow
// consumer drops messages rather than stalling the other streams.
type Subscription struct {
	ID     string
	Events chan *event.Event

	done    chan struct{}
	once    sync.Once
	onClose func()
}

// NewSubscription builds a subscription with the given channel buffer.
// onClose runs exactly once, on the first Close. Exported so test doubles
// can stand in for the pool.
func NewSubscription(id string, buffer int, onClose func()) *Subscription {
	return &Subscription{
		ID:      id,
		Events:  make(chan *event.Event, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Deliver offers an event to the consumer without blocking. It reports
// false when the subscription is closed or the buffer is full.
func (s *Subscription) Deliver(ev *event.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.Events <- ev:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the stream and releases the relay-side registration.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}
