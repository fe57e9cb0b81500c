package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType classifies a message on the bus.
type MessageType string

const (
	TypeRequest   MessageType = "request"
	TypeResponse  MessageType = "response"
	TypeError     MessageType = "error"
	TypeStatus    MessageType = "status"
	TypeBroadcast MessageType = "broadcast"
	TypeHandoff   MessageType = "handoff"
)

// ParseMessageType validates a message type name.
func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(strings.ToLower(s)); t {
	case TypeRequest, TypeResponse, TypeError, TypeStatus, TypeBroadcast, TypeHandoff:
		return t, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// All addresses every subscribed agent.
const All = "all"

// Priority orders the outgoing queue; higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = [...]string{"low", "normal", "high", "urgent"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityUrgent {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) {
	if p < PriorityLow || p > PriorityUrgent {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range priorityNames {
		if n == name {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", b)
}

// Message is the wire format shared by every participant. Messages are not
// modified once enqueued.
type Message struct {
	ID            string          `json:"id"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Type          MessageType     `json:"type"`
	Priority      Priority        `json:"priority"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ReplyTo       string          `json:"replyTo,omitempty"`
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.ID)
	}
	return json.Unmarshal(m.Payload, v)
}

// HandoffPayload transfers task ownership between agents.
type HandoffPayload struct {
	Task   json.RawMessage `json:"task"`
	Reason string          `json:"reason"`
	Time   time.Time       `json:"time"`
}

// ErrorPayload is carried by error messages.
type ErrorPayload struct {
	Error string `json:"error"`
}

var (
	// ErrNotFound is returned when a referenced message is not in history.
	ErrNotFound = errors.New("message not found")
	// ErrRequestTimeout rejects a request that got no answer in time.
	ErrRequestTimeout = errors.New("request timeout")
)

// HandlerError wraps a failure raised by a subscriber during dispatch.
type HandlerError struct {
	Agent     string
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s on message %s: %v", e.Agent, e.MessageID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RemoteError is how a request caller sees an error reply.
type RemoteError struct {
	From      string
	MessageID string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s replied with error: %s", e.From, e.Message)
}

func encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
