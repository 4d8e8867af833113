package notification

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber queue capacity.
const DefaultBufferSize = 256

// BusOptions configures a Bus.
type BusOptions struct {
	// BufferSize is the per-subscriber queue capacity (minimum 1).
	BufferSize int
	// OnDrop is invoked (synchronously, keep it cheap) for every notification
	// evicted from a full subscriber queue.
	OnDrop func(n Notification)
}

// Bus fans out notifications of one agent to independent subscribers.
// Publish never blocks and never fails, even with zero or stalled receivers.
type Bus struct {
	agent  string
	opts   BusOptions
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates a bus stamping notifications with the given agent name.
func NewBus(agent string, optFns ...func(o *BusOptions)) *Bus {
	opts := BusOptions{BufferSize: DefaultBufferSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	return &Bus{agent: agent, opts: opts, subs: map[uint64]*Subscription{}}
}

// Agent returns the agent name used for published notifications.
func (b *Bus) Agent() string { return b.agent }

// Subscribe registers a new receiver. Subscribing to a closed bus returns a
// subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{ch: make(chan Notification, b.opts.BufferSize), bus: b}
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish stamps content and delivers it to every subscriber.
func (b *Bus) Publish(content Content) {
	b.Send(New(b.agent, content))
}

// Send delivers an already stamped notification, keeping its agent name.
// Used to forward notifications of nested agents.
func (b *Bus) Send(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.deliver(n, b.opts.OnDrop)
	}
}

// Forward re-publishes everything received on sub until sub is closed or the
// returned stop function is called.
func (b *Bus) Forward(sub *Subscription) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range sub.C() {
			b.Send(n)
		}
	}()
	return func() {
		sub.Close()
		<-done
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[uint64]*Subscription{}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one receiver of a Bus. Its queue is bounded; when full, the
// oldest pending notification is dropped to make room.
type Subscription struct {
	id      uint64
	bus     *Bus
	ch      chan Notification
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// C returns the receive channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Dropped returns how many notifications were evicted from this queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	if s.bus != nil && s.id != 0 {
		s.bus.remove(s.id)
	}
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver enqueues n without blocking, evicting the oldest entries while the
// queue is full. The per-subscription lock keeps publish order.
func (s *Subscription) deliver(n Notification, onDrop func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- n:
			return
		default:
		}
		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			if onDrop != nil {
				onDrop(old)
			}
		default:
		}
	}
}
