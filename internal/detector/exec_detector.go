//go:build !windows

package detector

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ExecDetector identifies a process by pid, executable name and start time.
type ExecDetector struct {
	PID       int
	Names     []string // accepted executable names; empty accepts any
	StartUnix int64    // start time captured at launch; 0 skips the check
}

// NewExecDetector captures the current start time of pid.
func NewExecDetector(pid int, names ...string) ExecDetector {
	return ExecDetector{PID: pid, Names: names, StartUnix: ProcStartUnix(pid)}
}

func (d ExecDetector) Alive() (bool, error) {
	if !pidAlive(d.PID) {
		return false, nil
	}
	if d.StartUnix > 0 {
		if cur := ProcStartUnix(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	p, err := gopsproc.NewProcess(int32(d.PID))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, fmt.Errorf("inspect pid %d: %w", d.PID, err)
	}
	if st, err := p.Status(); err == nil {
		for _, s := range st {
			if s == gopsproc.Zombie {
				return false, nil
			}
		}
	}
	if len(d.Names) == 0 {
		return true, nil
	}
	name, err := p.Name()
	if err != nil {
		return false, nil
	}
	if d.matches(name) {
		return true, nil
	}
	if exe, err := p.Exe(); err == nil && d.matches(filepath.Base(exe)) {
		return true, nil
	}
	return false, nil
}

func (d ExecDetector) matches(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".exe")
	for _, n := range d.Names {
		if strings.EqualFold(strings.TrimSuffix(n, ".exe"), name) {
			return true
		}
	}
	return false
}

func (d ExecDetector) Describe() string {
	return fmt.Sprintf("exec:%d[%s]", d.PID, strings.Join(d.Names, ","))
}

// pidAlive returns true if a process with given pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
