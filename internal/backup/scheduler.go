// Package backup archives a running server's directory on a schedule.
package backup

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/mcvisor/internal/detector"
	"github.com/loykin/mcvisor/internal/history"
	"github.com/loykin/mcvisor/internal/metrics"
)

// DefaultTick is how often the scheduler wakes up.
const DefaultTick = time.Minute

// TimestampLayout names archives, e.g. 2024-05-01.13.05.09.zip.
const TimestampLayout = "2006-01-02.15.04.05"

// Scheduler runs the backups of one server run. It lives exactly as long as
// the process its detector watches; there is no other way to stop it.
type Scheduler struct {
	cfg   Config
	alive detector.Detector

	Tick    time.Duration
	Now     func() time.Time
	Sleep   func(time.Duration)
	Log     *slog.Logger
	History history.Sink
	Family  string
}

// New creates a scheduler bound to alive.
func New(cfg Config, alive detector.Detector, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:   cfg,
		alive: alive,
		Tick:  DefaultTick,
		Now:   time.Now,
		Sleep: time.Sleep,
		Log:   log.With("server", cfg.Server),
	}
}

// Run blocks until the watched process is gone. It returns immediately when
// both backup kinds are disabled.
func (s *Scheduler) Run() {
	c := s.cfg
	if !c.ServerOn && !c.PlayerdataOn {
		return
	}
	s.Log.Info("backup loop started", "server_backups", c.ServerOn, "playerdata_backups", c.PlayerdataOn)

	if c.PlayerdataOn {
		s.PlayerdataBackup()
	}
	if c.ServerOn {
		s.ServerBackup()
	}
	now := s.Now()
	nextServer := now.Add(c.ServerInterval)
	nextPlayerdata := now.Add(c.PlayerdataInterval)

	for s.isAlive() {
		now = s.Now()
		if c.ServerOn && !now.Before(nextServer) {
			s.ServerBackup()
			nextServer = advance(nextServer, c.ServerInterval, now)
		}
		if c.PlayerdataOn && !now.Before(nextPlayerdata) {
			s.PlayerdataBackup()
			nextPlayerdata = advance(nextPlayerdata, c.PlayerdataInterval, now)
		}
		s.Sleep(s.Tick)
	}
	s.Log.Info("backup loop finished")
}

// advance moves next past now in whole intervals so missed slots are not replayed.
func advance(next time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		interval = time.Minute
	}
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

func (s *Scheduler) isAlive() bool {
	ok, err := s.alive.Alive()
	if err != nil {
		s.Log.Warn("liveness check failed", "detector", s.alive.Describe(), "error", err)
		return false
	}
	return ok
}

// ServerBackup archives the whole server directory. Failures are logged
// and reported, never returned.
func (s *Scheduler) ServerBackup() string {
	c := s.cfg
	start := time.Now()
	dest := cleanPath(c.ServerDest)
	archive := joinPath(dest, s.Now().Format(TimestampLayout)+".zip")
	err := s.archive(c.Root, archive, dest, c.ServerRetention)
	s.report(KindServer, archive, start, err)
	cleanTemp(dest, s.Log)
	if err != nil {
		return ""
	}
	return archive
}

// PlayerdataBackup archives every playerdata directory, one archive per world.
func (s *Scheduler) PlayerdataBackup() []string {
	c := s.cfg
	dest := cleanPath(c.PlayerdataDest)
	stamp := s.Now().Format(TimestampLayout)
	dirs, err := findPlayerdata(c.Root, []string{dest, cleanPath(c.ServerDest)})
	if err != nil {
		s.report(KindPlayerdata, dest, time.Now(), err)
		return nil
	}
	var out []string
	for _, dir := range dirs {
		start := time.Now()
		archive := joinPath(dest, worldName(dir)+"-"+stamp+".zip")
		err := s.archive(dir, archive, dest, c.PlayerdataRetention)
		s.report(KindPlayerdata, archive, start, err)
		if err == nil {
			out = append(out, archive)
		}
	}
	cleanTemp(dest, s.Log)
	return out
}

func (s *Scheduler) archive(src, archive, dest string, retention int) error {
	if err := mkdir(dest); err != nil {
		return err
	}
	if retention > 0 {
		prune(dest, retention, s.Log)
	}
	return zipDir(src, archive, []string{dest}, s.Log)
}

func (s *Scheduler) report(kind Kind, archive string, start time.Time, err error) {
	ok := err == nil
	metrics.ObserveBackup(s.cfg.Server, string(kind), ok, time.Since(start).Seconds())
	status := "ok"
	if ok {
		s.Log.Info("backup created", "kind", kind, "archive", archive)
	} else {
		status = "error"
		s.Log.Error("backup failed", "kind", kind, "archive", archive, "error", err)
	}
	if s.History != nil {
		ev := history.Event{
			Type:       history.EventBackup,
			OccurredAt: time.Now().UTC(),
			Record:     history.Record{Server: s.cfg.Server, Family: s.Family, Status: status, Detail: archive},
		}
		if herr := s.History.Send(context.Background(), ev); herr != nil {
			s.Log.Warn("history send failed", "error", herr)
		}
	}
}
