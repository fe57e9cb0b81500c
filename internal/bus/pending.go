package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CallState is the lifecycle of one outstanding request.
type CallState string

const (
	CallPending  CallState = "pending"
	CallResolved CallState = "resolved"
	CallTimedOut CallState = "timed_out"
	CallErrored  CallState = "errored"
)

// Call is the caller's handle on a request. It leaves CallPending exactly once.
type Call struct {
	msg     *Message
	sentAt  time.Time
	timeout time.Duration
	timer   *time.Timer
	done    chan struct{}

	mu    sync.Mutex
	state CallState
	reply *Message
	err   error
}

func newCall(msg *Message, timeout time.Duration) *Call {
	return &Call{
		msg:     msg,
		sentAt:  time.Now(),
		timeout: timeout,
		done:    make(chan struct{}),
		state:   CallPending,
	}
}

// ID is the id of the request message.
func (c *Call) ID() string { return c.msg.ID }

// Request returns the request message.
func (c *Call) Request() *Message { return c.msg }

// State reports the current lifecycle state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the call leaves CallPending.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call settles or ctx ends. Giving up on ctx does not
// cancel the request; it still settles on reply or timeout.
func (c *Call) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.reply, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle performs a transition out of CallPending. Later transitions are ignored.
func (c *Call) settle(state CallState, reply *Message, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CallPending {
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.state, c.reply, c.err = state, reply, err
	close(c.done)
	return true
}

// pendingTable indexes outstanding calls by request id.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*Call)}
}

func (t *pendingTable) add(c *Call) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.calls[c.ID()]; dup {
		return fmt.Errorf("request %s already pending", c.ID())
	}
	t.calls[c.ID()] = c
	return nil
}

// take removes and returns the call for id, if any.
func (t *pendingTable) take(id string) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	return c
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// resolve fulfils the call with its response.
func (b *Bus) resolve(id string, reply *Message) bool {
	c := b.pending.take(id)
	if c == nil {
		return false
	}
	elapsed := time.Since(c.sentAt)
	if !c.settle(CallResolved, reply, nil) {
		return false
	}
	b.recordResponse(elapsed)
	b.metrics.Pending(b.pending.len())
	return true
}

// fail rejects the call with the error reply.
func (b *Bus) fail(id string, reply *Message, reason string) bool {
	c := b.pending.take(id)
	if c == nil {
		return false
	}
	ok := c.settle(CallErrored, reply, &RemoteError{From: reply.From, MessageID: reply.ID, Message: reason})
	b.metrics.Pending(b.pending.len())
	return ok
}

// expire is the timer transition.
func (b *Bus) expire(id string) {
	c := b.pending.take(id)
	if c == nil {
		return
	}
	if c.settle(CallTimedOut, nil, fmt.Errorf("%w: %s to %s after %s", ErrRequestTimeout, id, c.msg.To, c.timeout)) {
		b.mu.Lock()
		b.stats.timedOut++
		b.mu.Unlock()
		b.metrics.TimedOut()
		b.logger.Warn("request timed out",
			zap.String("id", id),
			zap.String("to", c.msg.To),
			zap.Duration("timeout", c.timeout))
	}
	b.metrics.Pending(b.pending.len())
}
