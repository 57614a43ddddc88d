package events

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives payloads published to a topic. Handlers of one
// subscription are invoked sequentially in publication order; handlers of
// different subscriptions run concurrently with each other.
type Handler func(payload any)

// Subscription is the token returned by Subscribe. It identifies one
// (topic, handler) registration and is the argument to Unsubscribe.
type Subscription struct {
	topic Topic

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []any
	closed bool

	handler Handler
}

func newSubscription(topic Topic, h Handler) *Subscription {
	s := &Subscription{topic: topic, handler: h}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Topic reports the topic this subscription listens on.
func (s *Subscription) Topic() Topic { return s.topic }

func (s *Subscription) enqueue(payload any) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, payload)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// dispatch drains the delivery queue until the subscription is stopped.
// Payloads queued before stop are still delivered.
func (s *Subscription) dispatch(log *slog.Logger) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		payload := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.invoke(log, payload)
	}
}

func (s *Subscription) invoke(log *slog.Logger, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked",
				"topic", string(s.topic),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	s.handler(payload)
}

// Bus is the process-wide publish/subscribe event plane. Publish never
// blocks on handler execution: each subscription owns a FIFO delivery queue
// drained by its own goroutine, so one slow or panicking handler cannot
// stall publishers or other subscribers.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[Topic][]*Subscription
	wg   sync.WaitGroup
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		subs: make(map[Topic][]*Subscription),
	}
}

// Subscribe registers a handler on a topic and returns its subscription
// token. The handler starts receiving payloads published after Subscribe
// returns. Each call creates a new independent subscription, even for the
// same handler on the same topic; the token is the only handle for removing
// it again.
func (b *Bus) Subscribe(topic Topic, h Handler) *Subscription {
	sub := newSubscription(topic, h)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.dispatch(b.log)
	}()
	return sub
}

// Unsubscribe removes a subscription. Payloads already queued are still
// delivered; payloads published after Unsubscribe returns are not. Calling
// it twice, or with a subscription from another bus, is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.stop()
}

// Publish enqueues a payload for every current subscriber of the topic and
// returns without waiting for handlers. Publishing to a topic with no
// subscribers is a no-op.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	list := b.subs[topic]
	b.mu.RUnlock()
	for _, sub := range list {
		sub.enqueue(payload)
	}
}

// SubscriberCount reports how many subscriptions a topic currently has.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close drops every subscription and waits for queued payloads to drain.
// The bus must not be used afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[Topic][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
	b.wg.Wait()
}
