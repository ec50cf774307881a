//go:build !windows

package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDMeta is stored on the second line of a pidfile.
type PIDMeta struct {
	StartUnix int64    `json:"start_unix"`
	Names     []string `json:"names,omitempty"`
}

// PIDFileDetector detects a process via a pidfile written at launch.
type PIDFileDetector struct {
	PIDFile string
}

// WritePIDFile records pid and its identity so a later PIDFileDetector can
// tell the original process from a recycled pid.
func WritePIDFile(path string, pid int, names ...string) error {
	meta, err := json.Marshal(PIDMeta{StartUnix: ProcStartUnix(pid), Names: names})
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// Read parses the pidfile into an ExecDetector.
func (d PIDFileDetector) Read() (ExecDetector, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		return ExecDetector{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return ExecDetector{}, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}
	ed := ExecDetector{PID: pid}
	if len(lines) >= 2 {
		var m PIDMeta
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil {
			ed.StartUnix = m.StartUnix
			ed.Names = m.Names
		}
	}
	return ed, nil
}

func (d PIDFileDetector) Alive() (bool, error) {
	ed, err := d.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return ed.Alive()
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
