package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/loykin/mcvisor/internal/classify"
)

// Sink receives classified events. Implementations must be safe for
// concurrent use since stdout and stderr are pumped separately.
type Sink interface {
	Write(server string, ev classify.Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(string, classify.Event) {}

// ConsoleSink prints events with ANSI colours.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer) *ConsoleSink { return &ConsoleSink{w: w} }

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorGray   = "\033[90m"
)

func (c *ConsoleSink) Write(server string, ev classify.Event) {
	var color, prefix string
	switch ev.Severity {
	case classify.Error:
		color, prefix = colorRed, "[ERROR] "
	case classify.Warn:
		color, prefix = colorYellow, "[WARN] "
	case classify.Info:
		color = colorGreen
	default:
		color = colorGray
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "%s[%s] %s%s%s\n", color, server, prefix, ev.Message, colorReset)
}

// LogSink forwards events to a slog logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Write(server string, ev classify.Event) {
	lg := s.Log
	if lg == nil {
		lg = slog.Default()
	}
	var lvl slog.Level
	switch ev.Severity {
	case classify.Error:
		lvl = slog.LevelError
	case classify.Warn:
		lvl = slog.LevelWarn
	case classify.Info:
		lvl = slog.LevelInfo
	default:
		lvl = slog.LevelDebug
	}
	lg.Log(context.Background(), lvl, ev.Message, "server", server, "severity", ev.Severity.String())
}

// Multi fans events out to several sinks.
type Multi []Sink

func (m Multi) Write(server string, ev classify.Event) {
	for _, s := range m {
		s.Write(server, ev)
	}
}
