package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// RunScript is the launch script forge installers generate.
const RunScript = "run.sh"

const (
	javaToken = "%JAVA%"
	buildRAM  = "1024"
)

var javaLineRe = regexp.MustCompile(`(?m)^java(\s)`)

// forgeBuilder runs the forge installer, which generates a launch script
// and a set of jars next to it.
type forgeBuilder struct{}

func (forgeBuilder) Install(ctx context.Context, s *Session, installer string) (string, error) {
	if installer == "" {
		return "", fmt.Errorf("forge installer: %w", ErrArtifactMissing)
	}
	if fi, err := os.Stat(installer); err != nil || fi.IsDir() {
		return "", fmt.Errorf("%s: %w", installer, ErrArtifactMissing)
	}
	s.Log.Info("installing forge; installer output is hidden")
	zero := 0
	state, st, err := s.Exec(ctx, s.Java(), []string{"-jar", installer, "--installServer"}, ExecOptions{
		Classifier:    BehaviourFor(s.Kind).Classifier(s.builderOptions()),
		DiscardStdout: true,
		Initial:       &zero,
	})
	if err != nil {
		return "", fmt.Errorf("forge installer: %w", err)
	}
	if st.ExitCode != 0 || state.Failed() {
		return "", fmt.Errorf("%w: exit code %d, output %s", ErrInstallerFailed, st.ExitCode, resultLabel(state.Value()))
	}

	// the placeholder jar would shadow the generated one
	_ = os.Remove(filepath.Join(s.Dir(), "server.jar"))

	script := filepath.Join(s.Dir(), RunScript)
	if _, err := os.Stat(script); err == nil {
		return script, nil
	}
	jar, err := findForgeJar(s.Dir())
	if err != nil {
		return "", err
	}
	return jar, nil
}

func findForgeJar(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.Contains(n, "forge") && strings.HasSuffix(n, ".jar") {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no forge jar in %s: %w", dir, ErrArtifactMissing)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

func (forgeBuilder) FirstRun(ctx context.Context, s *Session, artifact string) ResultCode {
	dir := s.Dir()
	props := filepath.Join(dir, "server.properties")
	if _, err := os.Stat(props); errors.Is(err, os.ErrNotExist) {
		_ = os.WriteFile(props, nil, 0o644)
	}

	// the installer is not always built for the same runtime as the server
	if s.Editor.Info().AutoDetectHint {
		jar := artifact
		if j, err := findForgeJar(dir); err == nil {
			jar = j
		}
		if err := s.DetectRuntime(ctx, jar); err != nil {
			s.Log.Error("runtime detection failed", "error", err)
			return ResultFailed
		}
	}

	java := s.Java()
	script := filepath.Join(dir, RunScript)
	if _, err := os.Stat(script); errors.Is(err, os.ErrNotExist) {
		line := fmt.Sprintf("%s -Xmx%sM -Xms%sM -jar %s nogui\n", strconv.Quote(java), buildRAM, buildRAM, strconv.Quote(artifact))
		if err := os.WriteFile(script, []byte(line), 0o755); err != nil {
			s.Log.Error("write run script", "error", err)
			return ResultFailed
		}
	}
	raw, err := os.ReadFile(script)
	if err != nil {
		s.Log.Error("read run script", "error", err)
		return ResultFailed
	}
	text := normalizeRunScript(string(raw), java)
	if err := os.WriteFile(script, []byte(text), 0o755); err != nil {
		s.Log.Error("write run script", "error", err)
		return ResultFailed
	}

	if code, err := s.ResolvePort(); err != nil {
		s.Log.Error("could not find a port to start the server with", "error", err)
		return code
	}

	state, st, err := s.Exec(ctx, "/bin/sh", []string{RunScript}, ExecOptions{
		Classifier: BehaviourFor(s.Kind).Classifier(s.builderOptions()),
	})
	s.removeWorld()
	if err != nil {
		s.Log.Error("first run failed", "error", err)
		return ResultFailed
	}
	if state.Failed() {
		s.Log.Error("first run reported errors", "state", resultLabel(state.Value()), "exit_code", st.ExitCode)
		return ResultFailed
	}
	s.Log.Info("silent run completed")

	if err := os.WriteFile(script, []byte(templateRunScript(text, java)), 0o755); err != nil {
		s.Log.Error("write run script", "error", err)
		return ResultFailed
	}
	return ResultOK
}

// normalizeRunScript prepares a generated script for an unattended run:
// comments and pauses go, the concrete runtime and a fixed heap are filled
// in, and nogui is added.
func normalizeRunScript(text, java string) string {
	var kept []string
	for _, l := range strings.Split(text, "\n") {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "#") || strings.HasPrefix(t, "pause") || strings.HasPrefix(t, "REM") {
			continue
		}
		if t == "" {
			continue
		}
		kept = append(kept, l)
	}
	text = strings.Join(kept, "\n")
	if !strings.Contains(text, "nogui") {
		if strings.Contains(text, `"$@"`) {
			text = strings.Replace(text, `"$@"`, `nogui "$@"`, 1)
		} else {
			text += " nogui"
		}
	}
	text = strings.ReplaceAll(text, "@user_jvm_args.txt", "-Xms"+buildRAM+"M -Xmx"+buildRAM+"M")
	text = javaLineRe.ReplaceAllString(text, strconv.Quote(java)+"$1")
	return text + "\n"
}

// templateRunScript turns a normalized script back into a template for
// persistent runs.
func templateRunScript(text, java string) string {
	return strings.NewReplacer(
		strconv.Quote(java), javaToken,
		"-Xms"+buildRAM+"M", "-Xms%RAM%M",
		"-Xmx"+buildRAM+"M", "-Xmx%RAM%M",
	).Replace(text)
}

// forgeStarter launches the last %JAVA% line of the templated run script
// through the shell, so quoting and @argfiles behave as in the script.
type forgeStarter struct{}

func (forgeStarter) Launch(s *Session) (Launch, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir(), RunScript))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Launch{}, fmt.Errorf("%s: %w", RunScript, ErrArtifactMissing)
		}
		return Launch{}, err
	}
	var line string
	for _, l := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), javaToken) {
			line = strings.TrimSpace(l)
		}
	}
	if line == "" {
		return Launch{}, fmt.Errorf("%s has no %s launch line", RunScript, javaToken)
	}
	line = strings.Replace(line, javaToken, strconv.Quote(s.Java()), 1)
	line = strings.ReplaceAll(line, "%RAM%", s.RAM())

	var kept []string
	for _, tok := range strings.Fields(line) {
		switch tok {
		case "nogui", `"$@"`, "$@", "%*":
			continue
		}
		kept = append(kept, tok)
	}
	if !s.Editor.Info().UseGUI {
		kept = append(kept, "nogui")
	}
	return Launch{Line: strings.Join(kept, " ")}, nil
}
