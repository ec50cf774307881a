package supervisor

import (
	"errors"
	"fmt"
)

// ResultCode is the outcome of a build. Its values are used as the CLI exit code.
type ResultCode int

const (
	ResultOK     ResultCode = 0
	ResultFailed ResultCode = 1
	ResultNoPort ResultCode = 2
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultFailed:
		return "failed"
	case ResultNoPort:
		return "no-port"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

var (
	ErrArtifactMissing = errors.New("server artifact not found")
	ErrAlreadyRunning  = errors.New("server already running")
	ErrUnknownServer   = errors.New("unknown server")
	ErrNotRunning      = errors.New("server not running")
	ErrInvalidName     = errors.New("invalid server name")
	ErrInstallerFailed = errors.New("installer failed")
)

// ConfigError aborts a run attempt before the process is started.
type ConfigError struct {
	Server string
	Op     string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
