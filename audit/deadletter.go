package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// DeadLetterRecord is one line written by [JSONDeadLetter].
type DeadLetterRecord struct {
	EventID        string          `json:"event_id,omitempty"`
	EventType      string          `json:"event_type,omitempty"`
	Attempt        int             `json:"attempt"`
	Reason         string          `json:"reason"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
	Data           json.RawMessage `json:"data,omitempty"`
	RawData        string          `json:"raw_data,omitempty"`
}

// JSONDeadLetter writes one JSON object per dead-lettered delivery.
type JSONDeadLetter struct {
	writer io.Writer
	now    func() time.Time
	mu     sync.Mutex
}

// NewJSONDeadLetter writes one JSON line per dead-lettered delivery to w.
func NewJSONDeadLetter(w io.Writer) *JSONDeadLetter {
	return &JSONDeadLetter{
		writer: w,
		now:    time.Now,
	}
}

// DeadLetter records d with reason.
func (s *JSONDeadLetter) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	if s == nil || s.writer == nil {
		return nil
	}
	rec := DeadLetterRecord{
		EventID:        d.EventID,
		EventType:      d.EventType,
		Attempt:        d.Attempt,
		Reason:         reason,
		DeadLetteredAt: s.now().UTC(),
	}
	if json.Valid(d.Data) {
		rec.Data = d.Data
	} else {
		rec.RawData = string(d.Data)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}
