package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// SubscriptionID identifies a bus subscription. IDs are allocated from a
// monotonically increasing counter and never reused.
type SubscriptionID int64

// Handler receives matching events. Handlers run synchronously on the
// emitting goroutine; a panicking handler is recovered and logged without
// affecting the remaining subscribers.
type Handler func(Event)

// Condition filters events for a subscription. A panicking condition is
// treated as a non-match.
type Condition func(Event) bool

type subscription struct {
	id      SubscriptionID
	kind    Kind
	handler Handler
	cond    Condition
	once    bool
	fired   atomic.Bool
}

// matches evaluates the subscription condition against evt, treating a
// panic inside the condition as "does not match".
func (s *subscription) matches(evt Event) (ok bool) {
	if s.cond == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return s.cond(evt)
}

// Bus is a typed publish/subscribe hub for browser lifecycle events.
// Subscribers to the same kind are notified in subscription order for a
// single Emit call. Handler invocation happens outside the subscriber
// lock so handlers are free to call back into the bus.
type Bus struct {
	logger *log.Logger

	nextID atomic.Int64

	mu   sync.Mutex
	subs map[Kind][]*subscription

	// emitHook, when set, observes every emitted event kind. Used for
	// metrics without making the bus depend on a metrics registry.
	emitHook func(Kind)
}

// Option configures a Bus.
type Option func(*Bus)

// WithEmitHook installs a hook invoked once per emitted event.
func WithEmitHook(hook func(Kind)) Option {
	return func(b *Bus) { b.emitHook = hook }
}

// NewBus returns an empty event bus.
func NewBus(logger *log.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	b := &Bus{
		logger: logger,
		subs:   make(map[Kind][]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a persistent handler for kind and returns its id.
func (b *Bus) Subscribe(kind Kind, handler Handler) SubscriptionID {
	return b.add(kind, handler, nil, false)
}

// SubscribeWithCondition registers a persistent handler that only fires
// for events matching cond.
func (b *Bus) SubscribeWithCondition(kind Kind, handler Handler, cond Condition) SubscriptionID {
	return b.add(kind, handler, cond, false)
}

// SubscribeOnce registers a handler that is removed automatically after
// its first matching delivery.
func (b *Bus) SubscribeOnce(kind Kind, handler Handler) SubscriptionID {
	return b.add(kind, handler, nil, true)
}

// SubscribeOnceWithCondition is SubscribeOnce with a filtering condition.
func (b *Bus) SubscribeOnceWithCondition(kind Kind, handler Handler, cond Condition) SubscriptionID {
	return b.add(kind, handler, cond, true)
}

func (b *Bus) add(kind Kind, handler Handler, cond Condition, once bool) SubscriptionID {
	sub := &subscription{
		id:      SubscriptionID(b.nextID.Add(1)),
		kind:    kind,
		handler: handler,
		cond:    cond,
		once:    once,
	}
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes the subscription with the given id. It reports
// whether a subscription was removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// UnsubscribeAll removes every subscription for kind and returns how many
// were removed.
func (b *Bus) UnsubscribeAll(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.subs[kind])
	delete(b.subs, kind)
	return n
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Kind][]*subscription)
}

// SubscriptionCount returns the number of live subscriptions for kind.
func (b *Bus) SubscriptionCount(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

// Emit synchronously notifies all subscriptions of evt.Kind whose
// condition matches, in subscription order, then removes the one-shot
// subscriptions that fired. A one-shot subscription fires at most once
// even under concurrent emits: the firing right is claimed atomically
// before the handler runs.
func (b *Bus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if b.emitHook != nil {
		b.emitHook(evt.Kind)
	}

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs[evt.Kind]))
	copy(snapshot, b.subs[evt.Kind])
	b.mu.Unlock()

	var spent []SubscriptionID
	for _, sub := range snapshot {
		if !sub.matches(evt) {
			continue
		}
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			spent = append(spent, sub.id)
		}
		b.invoke(sub, evt)
	}

	for _, id := range spent {
		b.Unsubscribe(id)
	}
}

// invoke runs a single handler, recovering a panic so one failing
// subscriber cannot block the rest of the notification pass.
func (b *Bus) invoke(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warnf("Bus:emit", "handler %d for %s panicked: %v", sub.id, evt.Kind, r)
		}
	}()
	sub.handler(evt)
}

// WaitForEvent returns a future settled by the first event of kind
// matching cond, or rejected with future.ErrTimeout after timeout. The
// one-shot subscription backing the wait is removed on timeout.
func (b *Bus) WaitForEvent(kind Kind, timeout time.Duration, cond Condition) *future.Future[Event] {
	p := future.NewPromise[Event]()
	id := b.SubscribeOnceWithCondition(kind, func(evt Event) {
		p.Resolve(evt)
	}, cond)
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			if p.Reject(future.ErrTimeout) {
				b.Unsubscribe(id)
			}
		})
	}
	return p.Future()
}

// WaitForNavigation waits for the next completed navigation.
func (b *Bus) WaitForNavigation(timeout time.Duration) *future.Future[Event] {
	return b.WaitForEvent(KindNavigationCompleted, timeout, nil)
}

// WaitForDOMChange waits for the next mutation event targeting selector.
func (b *Bus) WaitForDOMChange(selector string, timeout time.Duration) *future.Future[Event] {
	cond := func(evt Event) bool { return evt.Target == selector }
	p := future.NewPromise[Event]()
	ids := make([]SubscriptionID, 0, 4)
	for _, kind := range []Kind{KindElementAdded, KindElementRemoved, KindAttributeChanged, KindTextChanged} {
		ids = append(ids, b.SubscribeOnceWithCondition(kind, func(evt Event) {
			p.Resolve(evt)
		}, cond))
	}
	cleanup := func() {
		for _, id := range ids {
			b.Unsubscribe(id)
		}
	}
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			if p.Reject(future.ErrTimeout) {
				cleanup()
			}
		})
	}
	go func() {
		<-p.Future().Done()
		cleanup()
	}()
	return p.Future()
}

// WaitForNetworkIdle waits for the next network idle notification.
func (b *Bus) WaitForNetworkIdle(timeout time.Duration) *future.Future[Event] {
	return b.WaitForEvent(KindNetworkIdle, timeout, nil)
}
