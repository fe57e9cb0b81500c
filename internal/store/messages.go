package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-conductor/internal/bus"
)

var _ bus.Archiver = (*Store)(nil)

// Archive implements bus.Archiver. Re-archiving a message id is a no-op.
func (s *Store) Archive(ctx context.Context, msg *bus.Message) error {
	var payload []byte
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO bus_messages (id, sender, recipient, type, priority, correlation_id, reply_to, payload, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.From, msg.To, string(msg.Type), int(msg.Priority),
		msg.CorrelationID, msg.ReplyTo, payload, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive message %s: %w", msg.ID, err)
	}
	return nil
}

// Messages returns up to limit archived messages addressed to recipient,
// oldest first. An empty recipient matches every message.
func (s *Store) Messages(ctx context.Context, recipient string, limit int) ([]bus.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, sender, recipient, type, priority, correlation_id, reply_to, payload, sent_at
		FROM (
			SELECT * FROM bus_messages
			WHERE $1 = '' OR recipient = $1
			ORDER BY sent_at DESC
			LIMIT $2
		) recent
		ORDER BY sent_at ASC`, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (bus.Message, error) {
		var m bus.Message
		var prio int16
		var payload []byte
		err := row.Scan(&m.ID, &m.From, &m.To, &m.Type, &prio,
			&m.CorrelationID, &m.ReplyTo, &payload, &m.Timestamp)
		m.Priority = bus.Priority(prio)
		m.Payload = payload
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return msgs, nil
}
