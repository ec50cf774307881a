//go:build !windows

package detector

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// ProcStartUnix returns when pid started, in Unix seconds, or 0 if unknown.
// Linux reads /proc directly; other systems ask gopsutil.
func ProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		ticks := statStartTicks(pid)
		boot, hz := bootClock()
		if ticks <= 0 || boot == 0 {
			return 0
		}
		return boot + ticks/hz
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// statStartTicks reads starttime (field 22) of /proc/<pid>/stat. The comm
// field may contain spaces, so parsing starts after its closing paren.
func statStartTicks(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end < 0 {
		return 0
	}
	fields := strings.Fields(line[end+2:])
	if len(fields) < 20 {
		return 0
	}
	v, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var (
	bootOnce sync.Once
	bootUnix int64
	clockHz  int64
)

// bootClock returns the boot time from /proc/stat and the kernel clock rate.
// Both are fixed for the life of the host, so they are read once.
func bootClock() (int64, int64) {
	bootOnce.Do(func() {
		clockHz = 100
		if clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && clk > 0 {
			clockHz = clk
		}
		f, err := os.Open("/proc/stat")
		if err != nil {
			return
		}
		defer func() { _ = f.Close() }()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "btime "); ok {
				bootUnix, _ = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				return
			}
		}
	})
	return bootUnix, clockHz
}
