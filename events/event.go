// Package events defines the closed set of credential lifecycle events, their
// wire envelope, and the asynchronous publisher that ships them to a stream.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// Type names an event kind.
type Type string

const (
	TypeUserRegistered         Type = "USER_REGISTERED"
	TypeLoginSuccess           Type = "LOGIN_SUCCESS"
	TypeLoginFailed            Type = "LOGIN_FAILED"
	TypeRefreshTokenUsed       Type = "REFRESH_TOKEN_USED"
	TypeLogout                 Type = "LOGOUT"
	TypePasswordResetRequested Type = "PASSWORD_RESET_REQUESTED"
)

// Subject returns the stream subject token for t, e.g. "login_success".
func (t Type) Subject() string {
	return strings.ToLower(string(t))
}

// ErrUnprocessable marks payloads that can never be processed, no matter how
// often they are retried.
var ErrUnprocessable = errors.New("unprocessable event")

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
	// PartitionKey groups events that must stay ordered relative to each
	// other, normally the user id.
	PartitionKey() string
}

type UserRegistered struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	IP     string `json:"ip,omitempty"`
}

type LoginSucceeded struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// LoginFailed carries the internal failure reason. UserID is empty when no
// account matched.
type LoginFailed struct {
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Reason    string `json:"reason"`
}

// RefreshTokenUsed records every rotation attempt, successful or not.
type RefreshTokenUsed struct {
	UserID        string `json:"user_id,omitempty"`
	TokenID       string `json:"token_id,omitempty"`
	IP            string `json:"ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	Success       bool   `json:"success"`
	Reason        string `json:"reason,omitempty"`
	ReuseDetected bool   `json:"reuse_detected,omitempty"`
	RevokedCount  int64  `json:"revoked_count,omitempty"`
}

// LoggedOut covers single-token logout and logout-all.
type LoggedOut struct {
	UserID       string `json:"user_id"`
	TokenID      string `json:"token_id,omitempty"`
	IP           string `json:"ip,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	All          bool   `json:"all,omitempty"`
	RevokedCount int64  `json:"revoked_count,omitempty"`
}

type PasswordResetRequested struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email"`
	IP     string `json:"ip,omitempty"`
}

func (UserRegistered) EventType() Type         { return TypeUserRegistered }
func (LoginSucceeded) EventType() Type         { return TypeLoginSuccess }
func (LoginFailed) EventType() Type            { return TypeLoginFailed }
func (RefreshTokenUsed) EventType() Type       { return TypeRefreshTokenUsed }
func (LoggedOut) EventType() Type              { return TypeLogout }
func (PasswordResetRequested) EventType() Type { return TypePasswordResetRequested }

func (p UserRegistered) PartitionKey() string   { return p.UserID }
func (p LoginSucceeded) PartitionKey() string   { return p.UserID }
func (p RefreshTokenUsed) PartitionKey() string { return p.UserID }
func (p LoggedOut) PartitionKey() string        { return p.UserID }

func (p LoginFailed) PartitionKey() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.Email
}

func (p PasswordResetRequested) PartitionKey() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.Email
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var registry = map[Type]func(json.RawMessage) (Payload, error){
	TypeUserRegistered:         decodeAs[UserRegistered],
	TypeLoginSuccess:           decodeAs[LoginSucceeded],
	TypeLoginFailed:            decodeAs[LoginFailed],
	TypeRefreshTokenUsed:       decodeAs[RefreshTokenUsed],
	TypeLogout:                 decodeAs[LoggedOut],
	TypePasswordResetRequested: decodeAs[PasswordResetRequested],
}

// Known reports whether t is part of the event set.
func Known(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Event is one occurrence. ID is globally unique and is the idempotency key
// downstream.
type Event struct {
	ID         string
	Type       Type
	OccurredAt time.Time
	Payload    Payload
}

// New stamps payload with a fresh KSUID.
func New(payload Payload, at time.Time) Event {
	return Event{
		ID:         ksuid.New().String(),
		Type:       payload.EventType(),
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

// Key returns the partition key.
func (e Event) Key() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.PartitionKey()
}

type envelope struct {
	ID         string          `json:"event_id"`
	Type       Type            `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Encode renders the JSON envelope.
func Encode(e Event) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrUnprocessable)
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ID: e.ID, Type: e.Type, OccurredAt: e.OccurredAt, Payload: body})
}

// Decode parses an envelope and its typed payload. Every failure wraps
// [ErrUnprocessable].
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	if env.ID == "" {
		return Event{}, fmt.Errorf("%w: missing event_id", ErrUnprocessable)
	}
	decode, ok := registry[env.Type]
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown event_type %q", ErrUnprocessable, env.Type)
	}
	if len(env.Payload) == 0 {
		return Event{}, fmt.Errorf("%w: missing payload", ErrUnprocessable)
	}
	payload, err := decode(env.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}
	return Event{ID: env.ID, Type: env.Type, OccurredAt: env.OccurredAt, Payload: payload}, nil
}
