package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// directBuilder serves families whose download is the server jar itself.
type directBuilder struct{}

func (directBuilder) Install(_ context.Context, s *Session, installer string) (string, error) {
	target := filepath.Join(s.Dir(), "server.jar")
	if installer == "" {
		installer = target
	}
	fi, err := os.Stat(installer)
	if err != nil || fi.IsDir() {
		return "", fmt.Errorf("%s: %w", installer, ErrArtifactMissing)
	}
	if !sameFile(installer, target) {
		if err := copyFile(installer, target); err != nil {
			return "", fmt.Errorf("copy server jar: %w", err)
		}
	}
	return target, nil
}

func (directBuilder) FirstRun(ctx context.Context, s *Session, artifact string) ResultCode {
	if s.Editor.Info().AutoDetectHint {
		if err := s.DetectRuntime(ctx, artifact); err != nil {
			s.Log.Error("runtime detection failed", "error", err)
			return ResultFailed
		}
	}
	if code, err := s.ResolvePort(); err != nil {
		s.Log.Error("could not find a port to start the server with", "error", err)
		return code
	}
	args := expandTemplate(firstRunArgs, map[string]string{"%SERVER_JAR%": artifact}, s.RAM())
	state, st, err := s.Exec(ctx, s.Java(), args, ExecOptions{
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
	return ResultOK
}

// templateStarter expands a fixed launch template.
type templateStarter struct{ template string }

func (t templateStarter) Launch(s *Session) (Launch, error) {
	jar, err := s.ServerJar()
	if err != nil {
		return Launch{}, err
	}
	args := expandTemplate(t.template, map[string]string{"%SERVER_JAR%": jar}, s.RAM())
	if !s.Editor.Info().UseGUI {
		args = append(args, "nogui")
	}
	return Launch{Program: s.Java(), Args: args}, nil
}

// expandTemplate splits a launch template into arguments and substitutes
// its placeholders. %RAM_ARGUMENTS% expands to the two heap flags.
func expandTemplate(tmpl string, vars map[string]string, ram string) []string {
	pairs := []string{"%RAM%", ram}
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	r := strings.NewReplacer(pairs...)
	var out []string
	for _, tok := range strings.Fields(tmpl) {
		if tok == "%RAM_ARGUMENTS%" {
			out = append(out, "-Xmx"+ram+"M", "-Xms"+ram+"M")
			continue
		}
		out = append(out, r.Replace(tok))
	}
	return out
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
