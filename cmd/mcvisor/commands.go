package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/mcvisor"
	"github.com/loykin/mcvisor/internal/logger"
	"github.com/loykin/mcvisor/pkg/client"
)

// command carries the streams the CLI reads from and writes to.
type command struct {
	out io.Writer
	in  io.Reader
}

// local builds an in-process manager from the config file.
func (c command) local(configPath string, opts ...mcvisor.Option) (*mcvisor.Manager, *mcvisor.Config, func(), error) {
	cfg, err := mcvisor.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	log, closer := logger.New(cfg.Log, os.Stderr)
	slog.SetDefault(log)
	mgr, err := mcvisor.New(cfg, log, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = mgr.Close()
		_ = closer.Close()
	}
	return mgr, cfg, cleanup, nil
}

// Serve runs the daemon until SIGINT or SIGTERM, then stops every server.
func (c command) Serve(f ServeFlags) error {
	if f.Daemonize {
		if err := daemonize(f.PidFile, f.LogFile); err != nil {
			return err
		}
	}
	mgr, cfg, cleanup, err := c.local(f.ConfigPath)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() { _ = removePidFile(f.PidFile) }()

	srv, err := mcvisor.NewHTTPServer(cfg, mgr)
	if err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	slog.Info("mcvisor daemon listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "tls", cfg.Server.TLS.Enabled)
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		go func() {
			if err := mcvisor.ServeMetrics(cfg.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	var errs []error
	errs = append(errs, mgr.StopAll(cfg.StopTimeout))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, srv.Shutdown(ctx))
	return errors.Join(errs...)
}

// Build installs a server and exits with the build's result code.
func (c command) Build(ctx context.Context, f BuildFlags) error {
	if f.Name == "" || f.Type == "" || f.Installer == "" {
		return fmt.Errorf("--name, --type and --installer are required")
	}
	kind, err := mcvisor.ParseKind(f.Type)
	if err != nil {
		return err
	}
	var code int
	if f.Remote {
		cl, err := newClient(f.ConfigPath, f.APIFlags)
		if err != nil {
			return err
		}
		res, err := cl.Build(ctx, client.BuildRequest{Name: f.Name, Type: kind.String(), Installer: absPath(f.Installer)}, true)
		if err != nil {
			return err
		}
		code = res.Code
	} else {
		mgr, _, cleanup, err := c.local(f.ConfigPath, mcvisor.WithConsole(c.out))
		if err != nil {
			return err
		}
		defer cleanup()
		rc, err := mgr.Build(ctx, f.Name, kind, f.Installer)
		if err != nil {
			return err
		}
		code = int(rc)
	}
	_, _ = fmt.Fprintf(c.out, "build %s: %s\n", f.Name, mcvisor.ResultCode(code))
	if code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

// Run starts a server in the foreground. Lines read from the command's
// input go to the server console; an interrupt stops the server.
func (c command) Run(ctx context.Context, f RunFlags) error {
	if f.Name == "" {
		return fmt.Errorf("--name is required")
	}
	mgr, cfg, cleanup, err := c.local(f.ConfigPath, mcvisor.WithConsole(c.out))
	if err != nil {
		return err
	}
	defer cleanup()
	if err := mgr.Start(ctx, f.Name); err != nil {
		return err
	}
	if c.in != nil {
		go func() {
			sc := bufio.NewScanner(c.in)
			for sc.Scan() {
				if err := mgr.WriteInput(context.Background(), f.Name, sc.Text()); err != nil {
					return
				}
			}
		}()
	}
	go func() {
		<-ctx.Done()
		_ = mgr.Stop(f.Name, cfg.StopTimeout)
	}()
	st, err := mgr.Wait(context.Background(), f.Name)
	if err != nil {
		return err
	}
	if st.Result == "error" {
		return &exitCodeError{code: 1}
	}
	return nil
}

func (c command) Start(ctx context.Context, f NameFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	if err := cl.Start(ctx, f.Name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "started %s\n", f.Name)
	return nil
}

func (c command) Stop(ctx context.Context, f StopFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, f.Name, f.Wait); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "stopped %s\n", f.Name)
	return nil
}

func (c command) Status(ctx context.Context, f NameFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	if f.Name == "" {
		sts, err := cl.StatusAll(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, sts)
		return nil
	}
	st, err := cl.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

// Output prints buffered lines oldest first, the way they were written.
func (c command) Output(ctx context.Context, f OutputFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	lines, err := cl.Output(ctx, f.Name, f.Latest)
	if err != nil {
		return err
	}
	for i := len(lines) - 1; i >= 0; i-- {
		_, _ = fmt.Fprintln(c.out, lines[i])
	}
	return nil
}

func (c command) ClearOutput(ctx context.Context, f NameFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	return cl.ClearOutput(ctx, f.Name)
}

func (c command) Input(ctx context.Context, f InputFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	return cl.WriteInput(ctx, f.Name, f.Text)
}

func (c command) Schedules(ctx context.Context, f APIFlags, configPath string) error {
	cl, err := newClient(configPath, f)
	if err != nil {
		return err
	}
	es, err := cl.Schedules(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, es)
	return nil
}

// History prints recorded events, one per line, newest first.
func (c command) History(ctx context.Context, f HistoryFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	events, err := cl.History(ctx, f.Name, f.Limit)
	if err != nil {
		return err
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-6s  %s", e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Record.Status)
		if e.Record.Detail != "" {
			line += "  " + e.Record.Detail
		}
		_, _ = fmt.Fprintln(c.out, line)
	}
	return nil
}

// Login prints a bearer token for the given credentials.
func (c command) Login(ctx context.Context, f LoginFlags) error {
	cl, err := newClient(f.ConfigPath, f.APIFlags)
	if err != nil {
		return err
	}
	tok, err := cl.Login(ctx, f.Username, f.Password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, tok.Value)
	return nil
}

func (c command) HashPassword(password string) error {
	if password == "" && c.in != nil {
		sc := bufio.NewScanner(c.in)
		if sc.Scan() {
			password = strings.TrimSpace(sc.Text())
		}
	}
	h, err := mcvisor.HashPassword(password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, h)
	return nil
}
