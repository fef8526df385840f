package queue

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the urgency class requested for a message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// State is the lifecycle state of a message.
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
	StateSent     State = "sent"
	StateRetrying State = "retrying"
	StateFailed   State = "failed"
)

// Base scores per priority. Lower scores are served first.
const (
	scoreHigh    = 0
	scoreNormal  = 100
	scoreLow     = 200
	retryPenalty = 100
)

// Message is a guest notification owned by the queue from enqueue until a
// terminal outcome is logged.
//
// Subject and Body may be empty when rendering was deferred (scheduled
// sends); in that case MessageType and Variables carry what the worker needs
// to compose the content at delivery time.
type Message struct {
	ID          string            `json:"id"`
	BookingRef  string            `json:"booking_ref"`
	TargetID    string            `json:"target_id,omitempty"`
	MessageType string            `json:"message_type,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Priority    Priority          `json:"priority"`
	CreatedAt   time.Time         `json:"created_at"`
	Attempts    int               `json:"attempts"`
	State       State             `json:"state"`
	LastError   string            `json:"last_error,omitempty"`
	ClaimedAt   time.Time         `json:"claimed_at,omitempty"`
}

// Deliverable reports whether the message carries enough to be sent: a
// booking and either rendered content or a message type to render.
func (m *Message) Deliverable() bool {
	return m.BookingRef != "" && (m.Body != "" || m.MessageType != "")
}

// NewMessage creates a pending Message with a generated UUID.
func NewMessage(bookingRef, messageType string, priority Priority, createdAt time.Time) *Message {
	if !priority.Valid() {
		priority = PriorityNormal
	}
	return &Message{
		ID:          uuid.New().String(),
		BookingRef:  bookingRef,
		TargetID:    bookingRef,
		MessageType: messageType,
		Priority:    priority,
		CreatedAt:   createdAt,
		State:       StatePending,
	}
}

// Target returns the channel recipient identifier, falling back to the
// booking reference.
func (m *Message) Target() string {
	if m.TargetID != "" {
		return m.TargetID
	}
	return m.BookingRef
}

// NeedsRender reports whether the content still has to be composed from a
// template before the message can be sent.
func (m *Message) NeedsRender() bool {
	return m.Subject == "" && m.Body == "" && m.MessageType != ""
}

// Score returns the queue rank of the message.
func (m *Message) Score() float64 {
	return Score(m.Priority, m.Attempts)
}

// BaseScore returns the score of a priority with no failed attempts.
func BaseScore(p Priority) float64 {
	switch p {
	case PriorityHigh:
		return scoreHigh
	case PriorityLow:
		return scoreLow
	default:
		return scoreNormal
	}
}

// Score ranks a message. Once a message has failed, its original priority
// no longer matters: every failure pushes it behind all fresh LOW traffic.
func Score(p Priority, attempts int) float64 {
	if attempts <= 0 {
		return BaseScore(p)
	}
	return scoreLow + float64(attempts*retryPenalty)
}

// Penalize records a failed attempt on the message and returns it to the
// pending state with its demoted score.
func Penalize(m *Message, cause error) {
	m.Attempts++
	m.State = StatePending
	m.ClaimedAt = time.Time{}
	if cause != nil {
		m.LastError = cause.Error()
	}
}

// queueKey returns the Redis sorted set holding pending message ids.
func queueKey(prefix string) string {
	return prefix + ":queue"
}

// messagesKey returns the Redis hash holding message payloads by id.
func messagesKey(prefix string) string {
	return prefix + ":messages"
}

// inflightKey returns the Redis sorted set of claimed ids scored by claim time.
func inflightKey(prefix string) string {
	return prefix + ":inflight"
}

// dlqKey returns the Redis hash of dead-lettered messages by id.
func dlqKey(prefix string) string {
	return prefix + ":dlq"
}
