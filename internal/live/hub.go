package live

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-duochat/internal/stats"
)

const activeSubscriptionsMetric = "ActiveSubscriptions"

func UserTopic(userId string) string {
	return "user:" + userId
}

func ChatTopic(chatKey string) string {
	return "chat:" + chatKey
}

// Hub fans change notifications out to live queries. Publishers only name
// the topics that changed; every subscription on those topics re-runs its
// query and receives the full result set.
type Hub struct {
	log   *log.Logger
	stats stats.StatsProvider
	mu    sync.Mutex
	subs  map[string]map[*Subscription]struct{}
}

func NewHub(logger *log.Logger, su stats.StatsProvider) *Hub {
	if su != nil {
		su.RegisterMetric(activeSubscriptionsMetric)
	}

	return &Hub{
		log:   logger,
		stats: su,
		subs:  make(map[string]map[*Subscription]struct{}),
	}
}

func (h *Hub) Publish(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		for s := range h.subs[topic] {
			s.notify()
		}
	}
}

// PublishAll marks every subscription dirty. It is used when change
// notifications may have been missed, e.g. after a listener reconnect.
func (h *Hub) PublishAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.subs {
		for s := range subs {
			s.notify()
		}
	}
}

func (h *Hub) add(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[s.topic] == nil {
		h.subs[s.topic] = make(map[*Subscription]struct{})
	}
	h.subs[s.topic][s] = struct{}{}

	if h.stats != nil {
		h.stats.Incr(activeSubscriptionsMetric)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[s.topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}

	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, s.topic)
	}

	if h.stats != nil {
		h.stats.Decr(activeSubscriptionsMetric)
	}
}

func (h *Hub) count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

type Subscription struct {
	hub    *Hub
	topic  string
	dirty  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Subscription) notify() {
	select {
	case s.dirty <- struct{}{}:
	default:
		// a refresh is already pending
	}
}

// Unsubscribe stops delivery. It does not wait for an in-flight callback,
// so it is safe to call from the goroutine that consumes the snapshots;
// callbacks observe cancellation through the context they are given.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	s.hub.remove(s)
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Watch registers a live query on topic. onSnapshot receives the current
// result immediately and after every change to the topic. A failing query
// is reported to onError and ends the subscription; there is no retry.
func Watch[T any](
	h *Hub,
	topic string,
	query func(ctx context.Context) (T, error),
	onSnapshot func(ctx context.Context, v T),
	onError func(err error),
) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		hub:    h,
		topic:  topic,
		dirty:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.add(s)

	go func() {
		defer close(s.done)
		defer h.remove(s)

		for {
			v, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				h.log.Printf("live query %q: %v", topic, err)
				if onError != nil {
					onError(err)
				}
				cancel()
				return
			}

			onSnapshot(ctx, v)

			select {
			case <-s.dirty:
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}
