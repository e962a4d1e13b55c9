// Package notify delivers human-readable trading notifications. Delivery is
// best effort: failures are logged and never reach the trading loop.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	Info    Level = "info"
	Warning Level = "warning"
	Alert   Level = "alert"
)

type Message struct {
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Symbol string    `json:"symbol,omitempty"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sender is a delivery channel that reports errors.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Async queues messages for a background sender. Messages are dropped when
// the queue is full.
type Async struct {
	sender  Sender
	queue   chan Message
	timeout time.Duration
	log     zerolog.Logger
	done    chan struct{}
}

func NewAsync(sender Sender, size int, timeout time.Duration, log zerolog.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		sender:  sender,
		queue:   make(chan Message, size),
		timeout: timeout,
		log:     log.With().Str("component", "notifier").Logger(),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, msg Message) {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	select {
	case a.queue <- msg:
	default:
		a.log.Warn().Str("title", msg.Title).Msg("notification queue full, dropping")
	}
}

func (a *Async) run() {
	defer close(a.done)
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sender.Send(ctx, msg); err != nil {
			a.log.Warn().Err(err).Str("title", msg.Title).Msg("notification failed")
		}
		cancel()
	}
}

// Close drains the queue and waits for pending deliveries. Notify must not
// be called after Close.
func (a *Async) Close(ctx context.Context) error {
	close(a.queue)
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Multi sends to every sender and joins their errors.
type Multi []Sender

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the structured log.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Send(_ context.Context, msg Message) error {
	event := l.Logger.Info()
	if msg.Level == Alert || msg.Level == Warning {
		event = l.Logger.Warn()
	}
	event.Str("symbol", msg.Symbol).Str("title", msg.Title).Msg(msg.Text)
	return nil
}

type Nop struct{}

func (Nop) Notify(context.Context, Message) {}
