package bus

import (
	"time"
)

type counters struct {
	total       int
	byType      map[MessageType]int
	bySender    map[string]int
	failed      int
	timedOut    int
	responses   int
	avgResponse time.Duration
}

func newCounters() counters {
	return counters{
		byType:   make(map[MessageType]int),
		bySender: make(map[string]int),
	}
}

func (c *counters) count(msg *Message) {
	c.total++
	c.byType[msg.Type]++
	c.bySender[msg.From]++
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	TotalMessages   int                 `json:"total_messages"`
	ByType          map[MessageType]int `json:"by_type"`
	BySender        map[string]int      `json:"by_sender"`
	Failed          int                 `json:"failed"`
	TimedOut        int                 `json:"timed_out"`
	Responses       int                 `json:"responses"`
	AvgResponseTime time.Duration       `json:"avg_response_time"`
	QueueDepth      int                 `json:"queue_depth"`
	Pending         int                 `json:"pending"`
	HistorySize     int                 `json:"history_size"`
	Subscribers     int                 `json:"subscribers"`
}

func (b *Bus) recordResponse(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.responses++
	b.stats.avgResponse += (elapsed - b.stats.avgResponse) / time.Duration(b.stats.responses)
	b.metrics.Responded(elapsed)
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		TotalMessages:   b.stats.total,
		ByType:          make(map[MessageType]int, len(b.stats.byType)),
		BySender:        make(map[string]int, len(b.stats.bySender)),
		Failed:          b.stats.failed,
		TimedOut:        b.stats.timedOut,
		Responses:       b.stats.responses,
		AvgResponseTime: b.stats.avgResponse,
		QueueDepth:      len(b.queue),
		HistorySize:     len(b.history),
	}
	for k, v := range b.stats.byType {
		s.ByType[k] = v
	}
	for k, v := range b.stats.bySender {
		s.BySender[k] = v
	}
	b.mu.Unlock()

	s.Pending = b.pending.len()
	b.subsMu.RLock()
	for _, subs := range b.subs {
		s.Subscribers += len(subs)
	}
	b.subsMu.RUnlock()
	return s
}

// HistoryFilter selects messages from history. Zero fields match everything.
type HistoryFilter struct {
	From  string
	To    string
	Type  MessageType
	Since time.Time
	// Limit keeps only the most recent matches when positive.
	Limit int
}

func (f HistoryFilter) match(m *Message) bool {
	switch {
	case f.From != "" && m.From != f.From:
		return false
	case f.To != "" && m.To != f.To:
		return false
	case f.Type != "" && m.Type != f.Type:
		return false
	case !f.Since.IsZero() && m.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// History returns copies of matching messages in enqueue order.
func (b *Bus) History(f HistoryFilter) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, m := range b.history {
		if f.match(m) {
			out = append(out, *m)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Prune drops history older than maxAge and returns how many were removed.
// Messages still queued are kept.
func (b *Bus) Prune(maxAge time.Duration) int {
	cutoff := b.now().Add(-maxAge)

	b.mu.Lock()
	defer b.mu.Unlock()

	queued := make(map[string]bool, len(b.queue))
	for _, m := range b.queue {
		queued[m.ID] = true
	}
	kept := b.history[:0]
	removed := 0
	for _, m := range b.history {
		if m.Timestamp.Before(cutoff) && !queued[m.ID] {
			delete(b.index, m.ID)
			removed++
			continue
		}
		kept = append(kept, m)
	}
	clear(b.history[len(kept):])
	b.history = kept
	return removed
}
