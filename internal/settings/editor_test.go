package settings

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Defaults(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	i := e.Info()
	assert.Equal(t, 1024, i.RAM)
	assert.Equal(t, 25565, i.BasePort)
	assert.Equal(t, "java", i.JavaRuntimePath)
	assert.Equal(t, -1, i.CurrentServerProcessID)
	assert.Equal(t, -1, i.RollingServerBackups)
	assert.Equal(t, 120, i.ServerBackupsDelay)
	assert.Equal(t, 5, i.PlayerdataBackupsDelay)
	assert.True(t, i.UseGUI)
	assert.False(t, i.ServerBackupsOn)
}

func TestFlush_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PropertiesFile),
		[]byte("#Minecraft server properties\nmotd=A ${name} server\nserver-port=25565\n"), 0o600))

	e, err := Open(dir)
	require.NoError(t, err)
	motd, ok := e.Property("motd")
	require.True(t, ok)
	assert.Equal(t, "A ${name} server", motd, "values are not expanded")

	e.UpdateInfo(func(i *Info) {
		i.RAM = 4096
		i.Type = "forge"
		i.ServerBackupsOn = true
	})
	require.NoError(t, e.SetProperty("max-players", "8"))
	require.NoError(t, e.Flush())

	again, err := Open(dir)
	require.NoError(t, err)
	i := again.Info()
	assert.Equal(t, 4096, i.RAM)
	assert.Equal(t, "forge", i.Type)
	assert.True(t, i.ServerBackupsOn)
	v, _ := again.Property("max-players")
	assert.Equal(t, "8", v)

	entries, _ := os.ReadDir(dir)
	for _, en := range entries {
		assert.False(t, strings.Contains(en.Name(), ".tmp"), "temp file left: %s", en.Name())
	}
}

func TestSetProcessID_Persists(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.SetProcessID(4242))
	again, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 4242, again.Info().CurrentServerProcessID)
}

func TestResolve(t *testing.T) {
	e := &Editor{dir: "/srv/alpha"}
	assert.Equal(t, filepath.Join("/srv/alpha", "backups", "server"), e.Resolve(filepath.Join("backups", "server")))
	assert.Equal(t, "/var/backups", e.Resolve("/var/backups"))
}

func TestResolvePort_SkipsOccupied(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	e.UpdateInfo(func(i *Info) { i.BasePort = 30000 })

	busy := map[int]bool{30000: true, 30001: true, 30002: true}
	port, err := e.ResolvePort(func(p int) bool { return !busy[p] }, 10)
	require.NoError(t, err)
	assert.Equal(t, 30003, port)

	again, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 30003, again.Info().Port)
	v, _ := again.Property("server-port")
	assert.Equal(t, "30003", v)
}

func TestResolvePort_NoneFree(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.SetProperty("server-port", "1"))

	_, err = e.ResolvePort(func(int) bool { return false }, 5)
	require.True(t, errors.Is(err, ErrNoPort), "got %v", err)

	v, _ := e.Property("server-port")
	assert.Equal(t, "1", v)
	assert.Equal(t, 0, e.Info().Port)
	_, statErr := os.Stat(filepath.Join(dir, SettingsFile))
	assert.True(t, os.IsNotExist(statErr), "nothing should be flushed")
}

func TestResolvePort_ExplicitIP(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.SetProperty("server-ip", "10.0.0.5"))
	called := false
	port, err := e.ResolvePort(func(int) bool { called = true; return true }, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, port)
	assert.False(t, called)
}

func TestTCPProber(t *testing.T) {
	assert.False(t, TCPProber(-1))
}

func TestOpen_MissingPropertiesLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.Reload())
	_, ok := e.Property("server-port")
	assert.False(t, ok)
	assert.Empty(t, buf.String())

	require.NoError(t, os.WriteFile(filepath.Join(dir, PropertiesFile), []byte("server-port=25570\nmotd=${not-expanded}\n"), 0o644))
	require.NoError(t, e.Reload())
	port, ok := e.Property("server-port")
	require.True(t, ok)
	assert.Equal(t, "25570", port)
	motd, _ := e.Property("motd")
	assert.Equal(t, "${not-expanded}", motd)
	assert.Empty(t, buf.String())
}
