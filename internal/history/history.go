// Package history exports server lifecycle events to analytics stores.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart  EventType = "start"
	EventExit   EventType = "exit"
	EventBuild  EventType = "build"
	EventBackup EventType = "backup"
)

// Record is the payload of an event.
type Record struct {
	Server string `json:"server"`
	Family string `json:"family"`
	PID    int    `json:"pid"`
	Status string `json:"status"` // ok, error, no-port, ...
	Detail string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Querier is a sink that can read its events back.
type Querier interface {
	Recent(ctx context.Context, server string, limit int) ([]Event, error)
}

// ErrNoQuerier is returned by Fanout.Recent when no sink can be read.
var ErrNoQuerier = errors.New("no queryable history sink configured")

// Fanout delivers each event to every sink. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	Sinks   []Sink
	Timeout time.Duration
	Log     *slog.Logger
}

func (f *Fanout) Send(ctx context.Context, e Event) error {
	if f == nil || len(f.Sinks) == 0 {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	var errs []error
	for _, s := range f.Sinks {
		if err := s.Send(ctx, e); err != nil {
			if f.Log != nil {
				f.Log.Warn("history send failed", "type", e.Type, "server", e.Record.Server, "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that can be closed.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.Sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first sink that implements Querier.
func (f *Fanout) Recent(ctx context.Context, server string, limit int) ([]Event, error) {
	if f != nil {
		for _, s := range f.Sinks {
			if q, ok := s.(Querier); ok {
				return q.Recent(ctx, server, limit)
			}
		}
	}
	return nil, ErrNoQuerier
}
