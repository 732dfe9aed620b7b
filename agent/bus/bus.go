/*
Package bus is the in-process event bus of the agent. Every agent instance
owns its own Bus. Publishing never blocks the publisher: every subscription
has its own buffer and a goroutine which delivers the events in order.
Subscriptions live until they are cancelled or the bus is closed.
*/
package bus

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Event is anything published to the bus. Subscribers filter by the dynamic
// type of the event.
type Event any

// Bus is a broadcast channel of untyped events.
type Bus struct {
	lk     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription is a cancellable listener registration.
type Subscription struct {
	id     uint64
	bus    *Bus
	handle func(Event)

	// buffer stores events until the delivery goroutine handles them
	buffer
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

type buffer struct {
	buf *list.List
	sync.Mutex
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Publish broadcasts the event to all current subscribers. It returns
// immediately.
func (b *Bus) Publish(ev Event) {
	b.lk.Lock()
	defer b.lk.Unlock()

	if b.closed {
		glog.V(3).Infof("bus closed, event %T dropped", ev)
		return
	}
	glog.V(5).Infof("publish %T to %d subscribers", ev, len(b.subs))
	for _, s := range b.subs {
		s.push(ev)
	}
}

// Close cancels all subscriptions. Events published after Close are dropped.
func (b *Bus) Close() {
	b.lk.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.lk.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.lk.Lock()
	defer b.lk.Unlock()
	return len(b.subs)
}

func (b *Bus) subscribe(handle func(Event)) *Subscription {
	s := &Subscription{
		bus:    b,
		handle: handle,
		buffer: buffer{buf: list.New()},
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.lk.Lock()
	if b.closed {
		b.lk.Unlock()
		s.once.Do(func() { close(s.done) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.lk.Unlock()

	go s.deliver()
	return s
}

// Subscribe registers fn for all events of type T. The returned subscription
// must be cancelled when it's not needed anymore.
func Subscribe[T any](b *Bus, fn func(T)) *Subscription {
	return b.subscribe(func(ev Event) {
		if e, ok := ev.(T); ok {
			fn(e)
		}
	})
}

// Cancel stops the subscription. Buffered events are not delivered.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.lk.Lock()
		delete(s.bus.subs, s.id)
		s.bus.lk.Unlock()
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.buffer.Lock()
	s.buf.PushBack(ev)
	s.buffer.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (ev Event, ok bool) {
	s.buffer.Lock()
	defer s.buffer.Unlock()

	e := s.buf.Front()
	if e == nil {
		return nil, false
	}
	s.buf.Remove(e)
	return e.Value, true
}

func (s *Subscription) deliver() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			for ev, ok := s.pop(); ok; ev, ok = s.pop() {
				select {
				case <-s.done:
					return
				default:
				}
				s.call(ev)
			}
		}
	}
}

func (s *Subscription) call(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("event %T handler panic: %v", ev, r)
		}
	}()
	s.handle(ev)
}

// Waiter is a pending WaitFor. It's registered before the action which
// should trigger the event, so the event cannot be missed.
type Waiter[T any] struct {
	sub *Subscription
	hit chan T
}

// Expect starts to listen events of type T which fulfill the predicate.
// Call Wait to block until it happens.
func Expect[T any](b *Bus, predicate func(T) bool) *Waiter[T] {
	w := &Waiter[T]{hit: make(chan T, 1)}
	w.sub = Subscribe(b, func(ev T) {
		if predicate == nil || predicate(ev) {
			select {
			case w.hit <- ev:
			default:
			}
		}
	})
	return w
}

// Wait blocks until the expected event is observed, the timeout elapses or
// the context is done. It returns false if the event wasn't observed.
func (w *Waiter[T]) Wait(ctx context.Context, timeout time.Duration) bool {
	_, ok := w.WaitEvent(ctx, timeout)
	return ok
}

// WaitEvent is Wait which returns the observed event as well.
func (w *Waiter[T]) WaitEvent(ctx context.Context, timeout time.Duration) (ev T, ok bool) {
	defer w.sub.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev = <-w.hit:
		return ev, true
	case <-timer.C:
		glog.V(3).Infof("wait for %T timeout (%v)", ev, timeout)
	case <-ctx.Done():
		glog.V(3).Infof("wait for %T cancelled: %v", ev, ctx.Err())
	case <-w.sub.done:
	}
	return ev, false
}

// Cancel stops waiting without blocking.
func (w *Waiter[T]) Cancel() {
	w.sub.Cancel()
}

// WaitFor blocks until an event of type T fulfilling the predicate is
// published or the timeout elapses. Timeout isn't an error: the result is
// false.
func WaitFor[T any](ctx context.Context, b *Bus, predicate func(T) bool, timeout time.Duration) bool {
	return Expect(b, predicate).Wait(ctx, timeout)
}
