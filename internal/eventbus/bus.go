// Package eventbus provides a bounded, worker-pool-backed pub/sub (spec §5).
// The engine runs its TradeEvent stream on it; price ticks reach their
// consumers through internal/feed's listener callbacks, not through a Bus.
package eventbus

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Topic identifies a stream of messages; each stream runs on its own Topic
// over the same Bus implementation.
type Topic string

// Message is a single published unit. Payload is caller-defined.
type Message struct {
	Topic     Topic
	Payload   any
	Timestamp time.Time
}

// Handler processes a Message. Handlers must not block for long; a handler
// that panics has its panic recovered and logged, the rest of the bus is
// unaffected.
type Handler func(Message) error

// Subscription is a live registration returned by Subscribe.
type Subscription struct {
	id      int64
	topic   Topic
	handler Handler
	active  atomic.Bool
}

// Unsubscribe deactivates the subscription; in-flight deliveries still complete.
func (s *Subscription) Unsubscribe() {
	s.active.Store(false)
}

// Stats reports bus throughput and health.
type Stats struct {
	Published   int64
	Processed   int64
	Dropped     int64
	HandlerErrs int64
	P99Latency  time.Duration
}

// Config configures the worker pool and buffer depth.
type Config struct {
	Workers    int
	BufferSize int
}

// DefaultConfig mirrors the bus's original high-throughput defaults.
func DefaultConfig() Config {
	return Config{Workers: 16, BufferSize: 100_000}
}

// Bus is a bounded, drop-oldest-on-full pub/sub with a fixed worker pool.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*Subscription

	queue chan Message

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	handlerErrs atomic.Int64

	latMu      sync.Mutex
	latencies  []int64

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	logger  *zap.Logger
	subSeq  atomic.Int64
}

// New creates a Bus and starts its worker pool.
func New(logger *zap.Logger, cfg Config) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100_000
	}

	b := &Bus{
		subs:      make(map[Topic][]*Subscription),
		queue:     make(chan Message, cfg.BufferSize),
		stop:      make(chan struct{}),
		logger:    logger.Named("eventbus"),
		latencies: make([]int64, 0, 10_000),
	}

	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case msg := <-b.queue:
			start := time.Now()
			b.deliver(msg)
			b.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (b *Bus) deliver(msg Message) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subs[msg.Topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.invoke(sub, msg)
	}
	b.processed.Add(1)
}

func (b *Bus) invoke(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerErrs.Add(1)
			b.logger.Error("handler panic",
				zap.Int64("subscription_id", sub.id),
				zap.String("topic", string(msg.Topic)),
				zap.Any("panic", r))
		}
	}()
	if err := sub.handler(msg); err != nil {
		b.handlerErrs.Add(1)
		b.logger.Warn("handler error",
			zap.Int64("subscription_id", sub.id),
			zap.String("topic", string(msg.Topic)),
			zap.Error(err))
	}
}

func (b *Bus) trackLatency(ns int64) {
	b.latMu.Lock()
	defer b.latMu.Unlock()
	b.latencies = append(b.latencies, ns)
	if len(b.latencies) > 10_000 {
		b.latencies = b.latencies[5000:]
	}
}

// Subscribe registers handler for topic and returns the subscription handle.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{id: b.subSeq.Add(1), topic: topic, handler: handler}
	sub.active.Store(true)
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Publish enqueues msg without blocking. If the buffer is full it drops (and
// counts) the oldest queued message to make room for msg (drop-oldest-on-full
// policy, §7).
func (b *Bus) Publish(topic Topic, payload any) {
	msg := Message{Topic: topic, Payload: payload, Timestamp: time.Now()}
	select {
	case b.queue <- msg:
		b.published.Add(1)
	default:
		// drop the oldest queued message to make room, then enqueue this one
		select {
		case <-b.queue:
			b.dropped.Add(1)
		default:
		}
		select {
		case b.queue <- msg:
			b.published.Add(1)
		default:
			b.dropped.Add(1)
			b.logger.Warn("message dropped, buffer full", zap.String("topic", string(topic)))
		}
	}
}

// PublishSync delivers msg to subscribers synchronously, bypassing the queue.
func (b *Bus) PublishSync(topic Topic, payload any) {
	msg := Message{Topic: topic, Payload: payload, Timestamp: time.Now()}
	b.published.Add(1)
	b.deliver(msg)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Processed:   b.processed.Load(),
		Dropped:     b.dropped.Load(),
		HandlerErrs: b.handlerErrs.Load(),
		P99Latency:  time.Duration(b.p99LatencyNs()),
	}
}

func (b *Bus) p99LatencyNs() int64 {
	b.latMu.Lock()
	defer b.latMu.Unlock()
	if len(b.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(b.latencies))
	copy(sorted, b.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Close stops the worker pool, waiting up to 5s for in-flight work to drain.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stop)
		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			b.logger.Info("eventbus stopped",
				zap.Int64("processed", b.processed.Load()),
				zap.Int64("dropped", b.dropped.Load()))
		case <-time.After(5 * time.Second):
			b.logger.Warn("eventbus stop timed out")
		}
	})
}
