//go:build !windows

package detector

import (
	"os"
	"path/filepath"
	"testing"
)

// FuzzPIDFileRead feeds arbitrary pidfile contents to Read. A parsed pid
// must match the first line, and a detector built from junk must not panic.
func FuzzPIDFileRead(f *testing.F) {
	f.Add([]byte("4242\n{\"start_unix\":1700000000,\"names\":[\"java\"]}\n"))
	f.Add([]byte("4242\nnot json\n"))
	f.Add([]byte("-1\r\n"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		pf := filepath.Join(t.TempDir(), "server.pid")
		if err := os.WriteFile(pf, data, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		d := PIDFileDetector{PIDFile: pf}
		ed, err := d.Read()
		if err == nil && ed.PID != 0 && ed.Describe() == "" {
			t.Fatalf("empty description for pid %d", ed.PID)
		}
		_, _ = d.Alive()
	})
}
