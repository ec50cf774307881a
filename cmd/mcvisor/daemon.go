package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/loykin/mcvisor/internal/detector"
)

// daemonChildEnv marks the detached child so it does not fork again.
const daemonChildEnv = "MCVISOR_DAEMON_CHILD"

// daemonize re-executes serve detached from the terminal and exits the
// parent once the child is running. It refuses to start when pidFile names
// a live daemon.
func daemonize(pidFile, logFile string) error {
	if os.Getenv(daemonChildEnv) == "1" {
		return nil
	}
	if pidFile != "" {
		if alive, _ := (detector.PIDFileDetector{PIDFile: pidFile}).Alive(); alive {
			return fmt.Errorf("daemon already running (pidfile %s)", pidFile)
		}
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := childArgs(os.Args[1:])
	if pidFile != "" {
		// the child removes it on shutdown
		args = append(args, "--pidfile", pidFile)
	}
	// #nosec G204
	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if logFile != "" {
		// #nosec G304
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	if pidFile != "" {
		if err := detector.WritePIDFile(pidFile, cmd.Process.Pid, filepath.Base(executable)); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}
	fmt.Printf("mcvisor daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// childArgs drops the daemon flags, in both "--flag value" and
// "--flag=value" form, from the parent's arguments.
func childArgs(args []string) []string {
	var out []string
	skipNext := false
	for _, a := range args {
		if skipNext {
			skipNext = false
			continue
		}
		name, _, hasValue := strings.Cut(a, "=")
		switch name {
		case "--daemonize":
			continue
		case "--pidfile", "--logfile":
			skipNext = !hasValue
			continue
		}
		out = append(out, a)
	}
	return out
}

// removePidFile removes the PID file written for this daemon.
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	if err := os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
