// Package delivery sends finished session summaries to an external logging service.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/session"
)

// ErrDeliveryFailed matches every error returned by a Deliverer.
var ErrDeliveryFailed = errors.New("delivery failed")

// TimeFormat is the layout of session_end_time: ISO-8601 with microseconds and
// the local offset.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Supported delivery kinds.
const (
	KindHTTP = "http"
	KindMQTT = "mqtt"
	KindNone = "none"
)

// Error is a failed delivery. StatusCode is the HTTP status of a rejected
// request, or 0 when the service could not be reached.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery failed: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every Error match ErrDeliveryFailed.
func (e *Error) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// Rejected reports whether the service answered with a non-success status, as
// opposed to not being reachable at all.
func (e *Error) Rejected() bool {
	return e.StatusCode != 0
}

// Payload is the report sent to the logging service.
type Payload struct {
	UserID         string         `json:"user_id"`
	ProgramID      string         `json:"program_id"`
	Exercise       string         `json:"exercise"`
	Deviations     *deviation.Set `json:"deviations"`
	TotalErrors    int            `json:"total_errors"`
	SessionEndTime string         `json:"session_end_time"`
}

// NewPayload builds the report for a summary.
func NewPayload(s *session.Summary) Payload {
	devs := s.Deviations
	if devs == nil {
		devs = &deviation.Set{}
	}
	return Payload{
		UserID:         s.SubjectID,
		ProgramID:      s.ProgramID,
		Exercise:       s.Exercise,
		Deviations:     devs,
		TotalErrors:    s.TotalErrors,
		SessionEndTime: s.EndedAt.Format(TimeFormat),
	}
}

// Deliverer sends summaries somewhere. Deliver may block on the network and
// must honour ctx.
type Deliverer interface {
	Deliver(ctx context.Context, s *session.Summary) error
	Close() error
}

// Config selects and configures a Deliverer.
type Config struct {
	Kind    string
	URL     string
	Timeout time.Duration
	MQTT    MQTTConfig
}

// New creates the Deliverer for cfg.Kind. An empty kind means HTTP. MQTT
// publishers are connected before being returned.
func New(ctx context.Context, cfg Config) (Deliverer, error) {
	switch cfg.Kind {
	case "", KindHTTP:
		return NewHTTPClient(cfg.URL, cfg.Timeout), nil
	case KindMQTT:
		p := NewMQTTPublisher(cfg.MQTT)
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	case KindNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown delivery kind %q", cfg.Kind)
	}
}

// Nop discards every summary.
type Nop struct{}

// Deliver does nothing.
func (Nop) Deliver(context.Context, *session.Summary) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
