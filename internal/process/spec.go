package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/mcvisor/internal/logger"
)

// Spec describes a server process to launch.
type Spec struct {
	Name string `json:"name"`
	// Program and Args are used verbatim when Program is set.
	Program string   `json:"program,omitempty"`
	Args    []string `json:"args,omitempty"`
	// Command is a launch line. It goes through /bin/sh only when it
	// contains shell metacharacters (quoted paths, variables, ...).
	Command string        `json:"command,omitempty"`
	WorkDir string        `json:"work_dir"`
	Env     []string      `json:"env"`
	PIDFile string        `json:"pid_file"`
	Names   []string      `json:"names"` // expected executable names, recorded in the pidfile
	Log     logger.Config `json:"log"`
}

const shellMeta = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for the spec.
func (s *Spec) BuildCommand() *exec.Cmd {
	if s.Program != "" {
		// #nosec G204
		return exec.Command(s.Program, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if strings.ContainsAny(cmdStr, shellMeta) {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", execPrefix(cmdStr))
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// execPrefix makes the shell replace itself with a single simple command so
// the started pid is the server itself.
func execPrefix(script string) string {
	if strings.ContainsAny(script, "|&;\n") || strings.HasPrefix(script, "exec ") {
		return script
	}
	return "exec " + script
}
