// Package eventlog records trading events to append-only sinks.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	Open         EventType = "OPEN"
	Close        EventType = "CLOSE"
	Trail        EventType = "TRAIL"
	OrderFailed  EventType = "ORDER_FAILED"
	Unresolved   EventType = "UNRESOLVED"
	Reconciled   EventType = "RECONCILED"
	Skip         EventType = "SKIP"
	Summary      EventType = "SUMMARY"
	Start        EventType = "START"
	EntryBlocked EventType = "ENTRY_BLOCKED"
)

// Record keys are consumed by external log analysis and must stay stable.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	EventType EventType `json:"event_type"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	PnL       float64   `json:"pnl"`
	Reason    string    `json:"reason"`
}

// Line renders the record in the fixed text format.
func (r Record) Line() string {
	return fmt.Sprintf("[%s] %s symbol=%s price=%.4f quantity=%.6f pnl=%.4f reason=%s",
		r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		r.EventType, r.Symbol, r.Price, r.Quantity, r.PnL, r.Reason)
}

type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Multi writes each record to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(context.Context, Record) error { return nil }
func (Discard) Close() error                        { return nil }
