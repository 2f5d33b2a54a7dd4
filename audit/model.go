// Package audit persists credential lifecycle events exactly once per event
// id. The Consumer decides whether each delivery is acknowledged, retried, or
// dead-lettered; a Log does the conditional insert.
package audit

import (
	"fmt"
	"time"

	"github.com/MrEthical07/goLogin/events"
)

// LoginAuditLog is one persisted event. EventID is unique.
type LoginAuditLog struct {
	ID            uint      `gorm:"primaryKey"`
	EventID       string    `gorm:"size:64;uniqueIndex;not null"`
	EventType     string    `gorm:"size:32;index;not null"`
	UserID        *string   `gorm:"size:36;index"`
	Email         string    `gorm:"size:255;index"`
	IP            string    `gorm:"size:64"`
	UserAgent     string    `gorm:"size:512"`
	Success       bool      `gorm:"not null"`
	FailureReason *string   `gorm:"size:64"`
	OccurredAt    time.Time `gorm:"index;not null"`
	CreatedAt     time.Time
}

func (LoginAuditLog) TableName() string { return "login_audit_logs" }

// FromEvent flattens an event into its audit row.
func FromEvent(ev events.Event) (*LoginAuditLog, error) {
	row := &LoginAuditLog{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		OccurredAt: ev.OccurredAt.UTC(),
	}

	switch p := ev.Payload.(type) {
	case events.UserRegistered:
		row.UserID = optional(p.UserID)
		row.Email = p.Email
		row.IP = p.IP
		row.Success = true
	case events.LoginSucceeded:
		row.UserID = optional(p.UserID)
		row.Email = p.Email
		row.IP = p.IP
		row.UserAgent = p.UserAgent
		row.Success = true
	case events.LoginFailed:
		row.UserID = optional(p.UserID)
		row.Email = p.Email
		row.IP = p.IP
		row.UserAgent = p.UserAgent
		row.FailureReason = optional(p.Reason)
	case events.RefreshTokenUsed:
		row.UserID = optional(p.UserID)
		row.IP = p.IP
		row.UserAgent = p.UserAgent
		row.Success = p.Success
		if !p.Success {
			reason := p.Reason
			if p.ReuseDetected {
				reason = "reuse_detected"
			}
			row.FailureReason = optional(reason)
		}
	case events.LoggedOut:
		row.UserID = optional(p.UserID)
		row.IP = p.IP
		row.UserAgent = p.UserAgent
		row.Success = true
	case events.PasswordResetRequested:
		row.UserID = optional(p.UserID)
		row.Email = p.Email
		row.IP = p.IP
		row.Success = true
	default:
		return nil, fmt.Errorf("%w: no audit mapping for %T", events.ErrUnprocessable, ev.Payload)
	}

	return row, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
