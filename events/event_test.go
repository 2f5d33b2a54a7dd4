package events

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeKeepsType(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := New(LoginFailed{Email: "a@x", IP: "1.2.3.4", Reason: "invalid_password"}, at)

	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != ev.ID || got.Type != TypeLoginFailed || !got.OccurredAt.Equal(at) {
		t.Fatalf("unexpected envelope %+v", got)
	}
	p, ok := got.Payload.(LoginFailed)
	if !ok {
		t.Fatalf("expected LoginFailed payload, got %T", got.Payload)
	}
	if p.Reason != "invalid_password" || got.Key() != "a@x" {
		t.Fatalf("unexpected payload %+v key=%q", p, got.Key())
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"missing id":    `{"event_type":"LOGOUT","payload":{}}`,
		"unknown type":  `{"event_id":"e1","event_type":"SOMETHING","payload":{}}`,
		"no payload":    `{"event_id":"e1","event_type":"LOGOUT"}`,
		"bad payload":   `{"event_id":"e1","event_type":"LOGOUT","payload":{"all":"yes"}}`,
		"payload array": `{"event_id":"e1","event_type":"LOGIN_SUCCESS","payload":[1,2]}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrUnprocessable) {
			t.Fatalf("%s: expected ErrUnprocessable, got %v", name, err)
		}
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ev := New(LoggedOut{UserID: "u1"}, time.Now())
		if _, dup := seen[ev.ID]; dup {
			t.Fatal("duplicate event id")
		}
		seen[ev.ID] = struct{}{}
	}
}

func TestEveryTypeIsKnown(t *testing.T) {
	for _, p := range []Payload{
		UserRegistered{}, LoginSucceeded{}, LoginFailed{},
		RefreshTokenUsed{}, LoggedOut{}, PasswordResetRequested{},
	} {
		if !Known(p.EventType()) {
			t.Fatalf("%T is not registered", p)
		}
	}
	if Known("PASSWORD_CHANGED") {
		t.Fatal("event set must stay closed")
	}
}
