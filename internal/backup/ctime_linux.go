//go:build linux

package backup

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// creationTime returns the file's birth time, or its modification time when
// the filesystem does not record one.
func creationTime(path string) time.Time {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME|unix.STATX_MTIME, &stx); err == nil {
		if stx.Mask&unix.STATX_BTIME != 0 {
			return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
		}
		return time.Unix(stx.Mtime.Sec, int64(stx.Mtime.Nsec))
	}
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Time{}
}
