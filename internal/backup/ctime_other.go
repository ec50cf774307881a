//go:build !linux

package backup

import (
	"os"
	"time"
)

func creationTime(path string) time.Time {
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Time{}
}
