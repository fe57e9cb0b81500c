package bus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-conductor/internal/metrics"
	"go.uber.org/zap"
)

// Handler processes one dispatched message. A returned error on a request or
// handoff is sent back to the sender as an error message.
type Handler func(ctx context.Context, msg *Message) error

// Archiver receives every message once it has been dispatched.
type Archiver interface {
	Archive(ctx context.Context, msg *Message) error
}

// Config tunes the dispatch loop.
type Config struct {
	TickInterval   time.Duration `json:"tick_interval"`
	BatchSize      int           `json:"batch_size"`
	DefaultTimeout time.Duration `json:"default_timeout"`
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

type subscription struct {
	id    uint64
	agent string
	types map[MessageType]bool
	fn    Handler
}

func (s *subscription) accepts(t MessageType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is a priority-ordered in-process message bus. A single ticker drains
// the queue; senders never dispatch directly.
type Bus struct {
	cfg Config

	mu      sync.Mutex
	queue   []*Message
	history []*Message
	index   map[string]*Message
	stats   counters

	subsMu  sync.RWMutex
	subs    map[string][]*subscription
	nextSub uint64

	pending *pendingTable
	tickMu  sync.Mutex

	archiver Archiver
	metrics  *metrics.Metrics
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// New creates a bus. Call Start to run the dispatch loop, or Tick to drive it manually.
func New(cfg Config, logger *zap.Logger) *Bus {
	return &Bus{
		cfg:     cfg.withDefaults(),
		index:   make(map[string]*Message),
		stats:   newCounters(),
		subs:    make(map[string][]*subscription),
		pending: newPendingTable(),
		now:     time.Now,
		logger:  logger,
	}
}

// SetArchiver attaches durable storage for dispatched messages.
func (b *Bus) SetArchiver(a Archiver) { b.archiver = a }

// SetMetrics attaches Prometheus collectors.
func (b *Bus) SetMetrics(m *metrics.Metrics) { b.metrics = m }

// Config returns the effective configuration.
func (b *Bus) Config() Config { return b.cfg }

// Start runs the dispatch loop until ctx ends or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	b.mu.Unlock()

	go b.loop(ctx, done)
	b.logger.Info("message bus started",
		zap.Duration("tick", b.cfg.TickInterval),
		zap.Int("batch", b.cfg.BatchSize))
}

// Stop halts the dispatch loop. Queued messages stay queued.
func (b *Bus) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	b.logger.Info("message bus stopped")
}

func (b *Bus) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick dequeues up to BatchSize messages and dispatches them in priority
// order. It returns the number of messages processed.
func (b *Bus) Tick(ctx context.Context) int {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	batch := b.dequeue()
	for _, msg := range batch {
		b.dispatch(ctx, msg)
		b.archive(ctx, msg)
	}
	return len(batch)
}

// Flush ticks until the queue is empty or ctx ends.
func (b *Bus) Flush(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n := b.Tick(ctx)
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

func (b *Bus) dequeue() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(b.cfg.BatchSize, len(b.queue))
	if n == 0 {
		return nil
	}
	batch := slices.Clone(b.queue[:n])
	b.queue = slices.Delete(b.queue, 0, n)
	return batch
}

func (b *Bus) enqueue(msg *Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	slices.SortStableFunc(b.queue, func(x, y *Message) int {
		return int(y.Priority) - int(x.Priority)
	})
	b.history = append(b.history, msg)
	b.index[msg.ID] = msg
	b.stats.count(msg)
	depth := len(b.queue)
	b.mu.Unlock()

	b.metrics.Enqueued(string(msg.Type), depth)
	b.logger.Debug("message enqueued",
		zap.String("id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("priority", msg.Priority.String()))
}

func (b *Bus) newMessage(from, to string, t MessageType, p Priority, payload any) (*Message, error) {
	data, err := encode(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      t,
		Priority:  p,
		Payload:   data,
		Timestamp: b.now(),
	}, nil
}

// SendRequest enqueues a request and registers a pending call that settles on
// the matching response, the matching error or timeout. A non-positive
// timeout uses the configured default.
func (b *Bus) SendRequest(from, to string, payload any, priority Priority, timeout time.Duration) (*Call, error) {
	msg, err := b.newMessage(from, to, TypeRequest, priority, payload)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}

	c := newCall(msg, timeout)
	if err := b.pending.add(c); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.timer = time.AfterFunc(timeout, func() { b.expire(msg.ID) })
	c.mu.Unlock()
	b.metrics.Pending(b.pending.len())

	b.enqueue(msg)
	return c, nil
}

// Request sends a request and waits for its outcome.
func (b *Bus) Request(ctx context.Context, from, to string, payload any, priority Priority, timeout time.Duration) (*Message, error) {
	c, err := b.SendRequest(from, to, payload, priority, timeout)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx)
}

// SendResponse answers the message originalID and fulfils its pending call.
func (b *Bus) SendResponse(from, originalID string, payload any) (*Message, error) {
	orig, ok := b.lookup(originalID)
	if !ok {
		return nil, fmt.Errorf("respond to %s: %w", originalID, ErrNotFound)
	}
	msg, err := b.newMessage(from, orig.From, TypeResponse, orig.Priority, payload)
	if err != nil {
		return nil, err
	}
	msg.ReplyTo = originalID
	msg.CorrelationID = correlation(orig)

	b.enqueue(msg)
	b.resolve(originalID, msg)
	return msg, nil
}

// SendError sends an error to `to` at high priority. When originalID is set
// the message replies to it and rejects its pending call; an empty `to` then
// defaults to the original sender.
func (b *Bus) SendError(from, to, errText, originalID string) (*Message, error) {
	var orig *Message
	if originalID != "" {
		var ok bool
		if orig, ok = b.lookup(originalID); !ok {
			return nil, fmt.Errorf("error reply to %s: %w", originalID, ErrNotFound)
		}
		if to == "" {
			to = orig.From
		}
	}
	msg, err := b.newMessage(from, to, TypeError, PriorityHigh, ErrorPayload{Error: errText})
	if err != nil {
		return nil, err
	}
	if orig != nil {
		msg.ReplyTo = originalID
		msg.CorrelationID = correlation(orig)
	}

	b.mu.Lock()
	b.stats.failed++
	b.mu.Unlock()

	b.enqueue(msg)
	if orig != nil {
		b.fail(originalID, msg, errText)
	}
	return msg, nil
}

// Broadcast reaches every handler subscribed to broadcasts, whatever agent it
// was registered for.
func (b *Bus) Broadcast(from string, payload any, priority Priority) (*Message, error) {
	msg, err := b.newMessage(from, All, TypeBroadcast, priority, payload)
	if err != nil {
		return nil, err
	}
	b.enqueue(msg)
	return msg, nil
}

// SendStatus delivers a fire-and-forget status update.
func (b *Bus) SendStatus(from, to string, payload any) (*Message, error) {
	msg, err := b.newMessage(from, to, TypeStatus, PriorityNormal, payload)
	if err != nil {
		return nil, err
	}
	b.enqueue(msg)
	return msg, nil
}

// Handoff transfers a task to another agent at high priority. No response
// is expected, but a failing handler still produces an error back to from.
func (b *Bus) Handoff(from, to string, task any, reason string) (*Message, error) {
	raw, err := encode(task)
	if err != nil {
		return nil, err
	}
	msg, err := b.newMessage(from, to, TypeHandoff, PriorityHigh, HandoffPayload{
		Task:   raw,
		Reason: reason,
		Time:   b.now(),
	})
	if err != nil {
		return nil, err
	}
	b.enqueue(msg)
	return msg, nil
}

// Subscribe registers handler for messages addressed to agent. An empty types
// list accepts every type. The returned func removes the subscription.
func (b *Bus) Subscribe(agent string, types []MessageType, handler Handler) func() {
	s := &subscription{agent: agent, types: make(map[MessageType]bool, len(types)), fn: handler}
	for _, t := range types {
		s.types[t] = true
	}

	b.subsMu.Lock()
	b.nextSub++
	s.id = b.nextSub
	b.subs[agent] = append(b.subs[agent], s)
	b.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subsMu.Lock()
			defer b.subsMu.Unlock()
			b.subs[agent] = slices.DeleteFunc(b.subs[agent], func(x *subscription) bool { return x.id == s.id })
			if len(b.subs[agent]) == 0 {
				delete(b.subs, agent)
			}
		})
	}
}

func (b *Bus) matching(msg *Message) []*subscription {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	var out []*subscription
	if msg.To != All {
		for _, s := range b.subs[msg.To] {
			if s.accepts(msg.Type) {
				out = append(out, s)
			}
		}
		return out
	}
	agents := make([]string, 0, len(b.subs))
	for a := range b.subs {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for _, a := range agents {
		for _, s := range b.subs[a] {
			if s.accepts(msg.Type) {
				out = append(out, s)
			}
		}
	}
	return out
}

// dispatch runs every matching handler concurrently and returns once all settle.
func (b *Bus) dispatch(ctx context.Context, msg *Message) {
	subs := b.matching(msg)
	b.metrics.Dispatched(string(msg.Type), b.QueueLen())
	if len(subs) == 0 {
		b.logger.Debug("no subscribers",
			zap.String("id", msg.ID),
			zap.String("to", msg.To),
			zap.String("type", string(msg.Type)))
		return
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s *subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = &HandlerError{Agent: s.agent, MessageID: msg.ID, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			if err := s.fn(ctx, msg); err != nil {
				errs[i] = &HandlerError{Agent: s.agent, MessageID: msg.ID, Err: err}
			}
		}(i, s)
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err == nil {
		return
	}
	b.metrics.HandlerFailed(string(msg.Type))
	b.logger.Warn("handler failed",
		zap.String("id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.String("to", msg.To),
		zap.Error(err))

	if msg.Type != TypeRequest && msg.Type != TypeHandoff {
		return
	}
	from := msg.To
	if from == All {
		from = "bus"
	}
	if _, serr := b.SendError(from, msg.From, err.Error(), msg.ID); serr != nil {
		b.logger.Warn("error reply failed", zap.String("id", msg.ID), zap.Error(serr))
	}
}

func (b *Bus) archive(ctx context.Context, msg *Message) {
	if b.archiver == nil {
		return
	}
	if err := b.archiver.Archive(ctx, msg); err != nil {
		b.logger.Warn("archive message failed",
			zap.String("id", msg.ID),
			zap.Error(err))
	}
}

func (b *Bus) lookup(id string) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.index[id]
	return m, ok
}

// Lookup returns a copy of a message still held in history.
func (b *Bus) Lookup(id string) (Message, bool) {
	m, ok := b.lookup(id)
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// QueueLen is the number of messages waiting for dispatch.
func (b *Bus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// PendingCount is the number of requests awaiting an outcome.
func (b *Bus) PendingCount() int { return b.pending.len() }

func correlation(orig *Message) string {
	if orig.CorrelationID != "" {
		return orig.CorrelationID
	}
	return orig.ID
}
