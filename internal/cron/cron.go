// Package cron sends console commands to running servers on a schedule,
// e.g. a nightly "save-all" or a restart announcement.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcvisor/internal/output"
	"github.com/robfig/cron/v3"
)

// Job is one [[schedule]] entry.
// Schedule accepts a standard cron expression with optional seconds field,
// or a descriptor such as "@hourly" or "@every 30m".
type Job struct {
	Name     string `json:"name" toml:"name" mapstructure:"name"`
	Server   string `json:"server" toml:"server" mapstructure:"server"`
	Schedule string `json:"schedule" toml:"schedule" mapstructure:"schedule"`
	Command  string `json:"command" toml:"command" mapstructure:"command"`
	TimeZone string `json:"time_zone,omitempty" toml:"time_zone" mapstructure:"time_zone"`
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the job without scheduling it.
func (j Job) Validate() error {
	if j.Name == "" {
		return errors.New("schedule requires a name")
	}
	if j.Server == "" {
		return fmt.Errorf("schedule %s: server is required", j.Name)
	}
	if strings.TrimSpace(j.Command) == "" {
		return fmt.Errorf("schedule %s: command is required", j.Name)
	}
	if strings.ContainsAny(j.Command, "\r\n") {
		return fmt.Errorf("schedule %s: command must be a single line", j.Name)
	}
	if _, err := parser.Parse(j.spec()); err != nil {
		return fmt.Errorf("schedule %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}
	return nil
}

// spec prefixes the time zone the way robfig/cron expects it.
func (j Job) spec() string {
	if j.TimeZone == "" || strings.HasPrefix(j.Schedule, "@every") {
		return j.Schedule
	}
	return "CRON_TZ=" + j.TimeZone + " " + j.Schedule
}

// Sender delivers one console line to a running server.
type Sender interface {
	WriteInput(ctx context.Context, name, text string) error
}

// Entry reports a scheduled job.
type Entry struct {
	Job
	Next      time.Time `json:"next"`
	Prev      time.Time `json:"prev"`
	Runs      int       `json:"runs"`
	Skipped   int       `json:"skipped"`
	LastError string    `json:"last_error,omitempty"`
}

type entry struct {
	job       Job
	id        cron.EntryID
	runs      int
	skipped   int
	lastError string
}

// Scheduler fires jobs against a Sender. A tick is dropped while the
// previous delivery of the same job is still in flight.
type Scheduler struct {
	send    Sender
	log     *slog.Logger
	timeout time.Duration
	c       *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
	started bool
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(send Sender, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		send:    send,
		log:     log,
		timeout: 5 * time.Second,
		c:       cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]*entry),
	}
}

// Add schedules j. Names are unique within a scheduler.
func (s *Scheduler) Add(j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[j.Name]; ok {
		return fmt.Errorf("schedule %s already exists", j.Name)
	}
	e := &entry{job: j}
	id, err := s.c.AddFunc(j.spec(), func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", j.Name, err)
	}
	e.id = id
	s.entries[j.Name] = e
	s.log.Info("schedule added", "name", j.Name, "server", j.Server, "schedule", j.Schedule)
	return nil
}

// Remove unschedules the named job and reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.c.Remove(e.id)
	delete(s.entries, name)
	return true
}

// Start begins firing jobs. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
}

// Stop halts scheduling and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if started {
		<-s.c.Stop().Done()
	}
}

// Entries lists the scheduled jobs sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.c.Entry(e.id)
		out = append(out, Entry{
			Job:       e.job,
			Next:      ce.Next,
			Prev:      ce.Prev,
			Runs:      e.runs,
			Skipped:   e.skipped,
			LastError: e.lastError,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) fire(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.send.WriteInput(ctx, e.job.Server, e.job.Command)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		e.runs++
		e.lastError = ""
		s.log.Debug("schedule fired", "name", e.job.Name, "server", e.job.Server)
	case errors.Is(err, output.ErrNoListener):
		// server not running
		e.skipped++
		s.log.Debug("schedule skipped", "name", e.job.Name, "server", e.job.Server)
	default:
		e.lastError = err.Error()
		s.log.Warn("schedule failed", "name", e.job.Name, "server", e.job.Server, "error", err)
	}
}
