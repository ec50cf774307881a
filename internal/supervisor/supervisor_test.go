package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/mcvisor/internal/family"
	"github.com/loykin/mcvisor/internal/output"
	"github.com/loykin/mcvisor/internal/settings"
	"github.com/stretchr/testify/require"
)

const (
	preparingScript = `echo "[12:00:00] [Server thread/INFO]: Starting minecraft server"
mkdir -p world
echo "[12:00:01] [Server thread/INFO]: Preparing level \"world\""
sleep 30
`
	echoScript = `echo "[12:00:00] [Server thread/INFO]: Done (1.0s)! For help, type \"help\""
while read line; do
  echo "[12:00:01] [Server thread/INFO]: got $line"
  [ "$line" = "stop" ] && exit 0
done
`
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeRuntime creates a runtime directory whose bin/java runs script.
func fakeRuntime(t *testing.T, script string) string {
	t.Helper()
	rt := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rt, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rt, "bin", "java"), []byte("#!/bin/sh\n"+script), 0o755))
	return rt
}

func newTestManager(t *testing.T, probe settings.Prober) *Manager {
	t.Helper()
	ipc, err := os.MkdirTemp("", "mcv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(ipc) })
	m := NewManager(Options{
		ServersDir: t.TempDir(),
		IPCDir:     ipc,
		Probe:      probe,
		Logger:     quiet(),
		Sink:       output.Discard,
	})
	t.Cleanup(func() { _ = m.StopAll(time.Second) })
	return m
}

func freePorts(int) bool { return true }

func prepare(t *testing.T, m *Manager, name, rt string, fn func(*settings.Info)) *settings.Editor {
	t.Helper()
	ed, err := m.Editor(name, true)
	require.NoError(t, err)
	ed.UpdateInfo(func(i *settings.Info) {
		i.JavaRuntimePath = rt
		if fn != nil {
			fn(i)
		}
	})
	require.NoError(t, ed.Flush())
	return ed
}

func installerJar(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "minecraft_server.jar")
	require.NoError(t, os.WriteFile(p, []byte("PK"), 0o644))
	return p
}

func buildCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestBuild_FirstRunKilledOnPreparingLevel(t *testing.T) {
	m := newTestManager(t, freePorts)
	ed := prepare(t, m, "alpha", fakeRuntime(t, preparingScript), nil)

	start := time.Now()
	code, err := m.Build(buildCtx(t), "alpha", family.Vanilla, installerJar(t))
	require.NoError(t, err)
	require.Equal(t, ResultOK, code)
	require.Less(t, time.Since(start), 15*time.Second)

	_, err = os.Stat(filepath.Join(ed.Dir(), "world"))
	require.True(t, os.IsNotExist(err), "world should be removed")
	_, err = os.Stat(filepath.Join(ed.Dir(), "server.jar"))
	require.NoError(t, err)

	info := ed.Info()
	require.Equal(t, "vanilla", info.Type)
	require.Equal(t, "server.jar", info.ServerJar)
	port, _ := ed.Property("server-port")
	require.Equal(t, "25565", port)

	st, err := m.Status("alpha")
	require.NoError(t, err)
	require.Equal(t, Exited.String(), st.State)
}

func TestBuild_ErrorOutputFails(t *testing.T) {
	m := newTestManager(t, freePorts)
	prepare(t, m, "beta", fakeRuntime(t, `echo "[12:00:00] [Server thread/ERROR]: Failed to bind to port"
echo "[12:00:01] [Server thread/INFO]: Stopping server"
exit 1
`), nil)
	code, err := m.Build(buildCtx(t), "beta", family.Vanilla, installerJar(t))
	require.NoError(t, err)
	require.Equal(t, ResultFailed, code)
}

func TestBuild_SilentRunFails(t *testing.T) {
	m := newTestManager(t, freePorts)
	prepare(t, m, "gamma", fakeRuntime(t, "exit 0\n"), nil)
	code, err := m.Build(buildCtx(t), "gamma", family.Fabric, installerJar(t))
	require.NoError(t, err)
	require.Equal(t, ResultFailed, code)
}

func TestBuild_NoPort(t *testing.T) {
	m := newTestManager(t, func(int) bool { return false })
	ed := prepare(t, m, "delta", fakeRuntime(t, preparingScript), nil)
	code, err := m.Build(buildCtx(t), "delta", family.Spigot, installerJar(t))
	require.NoError(t, err)
	require.Equal(t, ResultNoPort, code)
	_, ok := ed.Property("server-port")
	require.False(t, ok)
}

func TestBuild_MissingInstaller(t *testing.T) {
	m := newTestManager(t, freePorts)
	code, err := m.Build(buildCtx(t), "eps", family.Vanilla, filepath.Join(t.TempDir(), "missing.jar"))
	require.NoError(t, err)
	require.Equal(t, ResultFailed, code)
}

func TestBuild_Forge(t *testing.T) {
	m := newTestManager(t, freePorts)
	rt := fakeRuntime(t, `if [ "$3" = "--installServer" ]; then
  echo "installing forge"
  printf '#!/usr/bin/env sh\n# Add custom JVM arguments to user_jvm_args.txt\njava @user_jvm_args.txt -jar forge-1.0.jar "$@"\n' > run.sh
  : > forge-1.0.jar
  exit 0
fi
`+preparingScript)
	ed := prepare(t, m, "forged", rt, nil)
	require.NoError(t, os.WriteFile(filepath.Join(ed.Dir(), "server.jar"), []byte("placeholder"), 0o644))

	code, err := m.Build(buildCtx(t), "forged", family.Forge, installerJar(t))
	require.NoError(t, err)
	require.Equal(t, ResultOK, code)

	b, err := os.ReadFile(filepath.Join(ed.Dir(), RunScript))
	require.NoError(t, err)
	require.Equal(t, "%JAVA% -Xms%RAM%M -Xmx%RAM%M -jar forge-1.0.jar nogui \"$@\"\n", string(b))
	require.Equal(t, RunScript, ed.Info().ServerJar)
	_, err = os.Stat(filepath.Join(ed.Dir(), "server.jar"))
	require.True(t, os.IsNotExist(err), "placeholder jar should be removed")
}

func startEcho(t *testing.T, m *Manager, name string) *settings.Editor {
	t.Helper()
	ed := prepare(t, m, name, fakeRuntime(t, echoScript), func(i *settings.Info) { i.Type = "vanilla" })
	require.NoError(t, os.WriteFile(filepath.Join(ed.Dir(), "server.jar"), []byte("PK"), 0o644))
	require.NoError(t, m.Start(context.Background(), name))
	return ed
}

func TestStart_InputOutputAndStop(t *testing.T) {
	m := newTestManager(t, freePorts)
	ed := startEcho(t, m, "srv")

	st, err := m.Status("srv")
	require.NoError(t, err)
	require.True(t, st.Running)
	require.Equal(t, Running.String(), st.State)
	require.Equal(t, st.PID, ed.Info().CurrentServerProcessID)

	eventually(t, func() bool {
		l, ok := m.Latest("srv")
		return ok && strings.Contains(l, "Done")
	}, "startup line")

	require.NoError(t, m.WriteInput(context.Background(), "srv", "say hello"))
	eventually(t, func() bool {
		l, _ := m.Latest("srv")
		return strings.HasSuffix(l, "got say hello")
	}, "echoed input")

	require.NoError(t, m.Stop("srv", 2*time.Second))
	st, err = m.Status("srv")
	require.NoError(t, err)
	require.False(t, st.Running)
	require.Equal(t, Exited.String(), st.State)
	require.Equal(t, 0, st.ExitCode)
	require.Equal(t, -1, ed.Info().CurrentServerProcessID)

	out := m.Output("srv")
	require.GreaterOrEqual(t, len(out), 3)
	require.True(t, strings.HasSuffix(out[0], "got stop"))

	m.ClearOutput("srv")
	require.Empty(t, m.Output("srv"))

	err = m.WriteInput(context.Background(), "srv", "anyone?")
	require.ErrorIs(t, err, output.ErrNoListener)
}

func TestStart_Twice(t *testing.T) {
	m := newTestManager(t, freePorts)
	startEcho(t, m, "once")
	err := m.Start(context.Background(), "once")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.NoError(t, m.Stop("once", 2*time.Second))
}

func TestStart_EULAKillsProcess(t *testing.T) {
	m := newTestManager(t, freePorts)
	ed := prepare(t, m, "eula", fakeRuntime(t, `echo "[12:00:00] [main/INFO]: You need to agree to the EULA in order to run the server. Go to eula.txt for more info."
sleep 30
`), func(i *settings.Info) { i.Type = "vanilla" })
	require.NoError(t, os.WriteFile(filepath.Join(ed.Dir(), "server.jar"), []byte("PK"), 0o644))
	require.NoError(t, m.Start(context.Background(), "eula"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := m.Wait(ctx, "eula")
	require.NoError(t, err)
	require.False(t, st.Running)
	require.Equal(t, "info", st.Result)
}

func TestStart_NoPortIsConfigError(t *testing.T) {
	m := newTestManager(t, func(int) bool { return false })
	ed := prepare(t, m, "busy", fakeRuntime(t, echoScript), func(i *settings.Info) { i.Type = "vanilla" })
	require.NoError(t, os.WriteFile(filepath.Join(ed.Dir(), "server.jar"), []byte("PK"), 0o644))

	err := m.Start(context.Background(), "busy")
	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "want ConfigError, got %v", err)
	require.ErrorIs(t, err, settings.ErrNoPort)

	st, err := m.Status("busy")
	require.NoError(t, err)
	require.False(t, st.Running)
	require.Equal(t, 0, st.PID)
}

func TestStart_MissingJarIsConfigError(t *testing.T) {
	m := newTestManager(t, freePorts)
	prepare(t, m, "nojar", fakeRuntime(t, echoScript), func(i *settings.Info) { i.Type = "vanilla" })
	err := m.Start(context.Background(), "nojar")
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	require.ErrorIs(t, err, ErrArtifactMissing)
}

func TestStatusAndStop_UnknownServer(t *testing.T) {
	m := newTestManager(t, freePorts)
	_, err := m.Status("nope")
	require.ErrorIs(t, err, ErrUnknownServer)
	require.ErrorIs(t, m.Stop("nope", time.Second), ErrUnknownServer)
	_, err = m.Editor("../escape", false)
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestStop_NotRunning(t *testing.T) {
	m := newTestManager(t, freePorts)
	prepare(t, m, "idle", "java", nil)
	require.ErrorIs(t, m.Stop("idle", time.Second), ErrNotRunning)
	st, err := m.Status("idle")
	require.NoError(t, err)
	require.Equal(t, NotStarted.String(), st.State)
}
