package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/mcvisor/internal/auth"
	"github.com/loykin/mcvisor/internal/cron"
	"github.com/loykin/mcvisor/internal/javart"
	"github.com/loykin/mcvisor/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MCVISOR_SERVERS_DIR or
// MCVISOR_SERVER_LISTEN.
const EnvPrefix = "MCVISOR"

// Config represents the top-level TOML structure.
type Config struct {
	ServersDir     string        `toml:"servers_dir" mapstructure:"servers_dir"`
	RuntimeDir     string        `toml:"runtime_dir" mapstructure:"runtime_dir"`
	IPCDir         string        `toml:"ipc_dir" mapstructure:"ipc_dir"`
	BufferCapacity int           `toml:"buffer_capacity" mapstructure:"buffer_capacity"`
	PortProbeLimit int           `toml:"port_probe_limit" mapstructure:"port_probe_limit"`
	SpecialErrors  []string      `toml:"special_errors" mapstructure:"special_errors"`
	StopTimeout    time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	RuntimeBaseURL string        `toml:"runtime_base_url" mapstructure:"runtime_base_url"`
	Env            []string      `toml:"env" mapstructure:"env"`
	EnvFiles       []string      `toml:"env_files" mapstructure:"env_files"`

	Log       logger.Config `toml:"log" mapstructure:"log"`
	Server    ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics   MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig `toml:"history" mapstructure:"history"`
	Schedules []cron.Job    `toml:"schedule" mapstructure:"schedule"`
}

// ServerConfig is the HTTP API section.
type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig   `toml:"tls" mapstructure:"tls"`
	Auth     auth.Config `toml:"auth" mapstructure:"auth"`
}

// TLSConfig serves the API over HTTPS. CertFile/KeyFile take precedence
// over Dir; AutoGenerate creates a self-signed pair in Dir.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
}

// MetricsConfig enables the Prometheus collectors. With an empty Listen the
// handler is mounted on the API router.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// HistoryConfig lists the event sinks, one DSN each.
type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

var defaults = map[string]any{
	"servers_dir":              "servers",
	"runtime_dir":              "runtimes",
	"ipc_dir":                  filepath.Join(os.TempDir(), "mcvisor"),
	"buffer_capacity":          1000,
	"port_probe_limit":         100,
	"special_errors":           []string{},
	"stop_timeout":             "30s",
	"runtime_base_url":         javart.DefaultBaseURL,
	"env":                      []string{},
	"env_files":                []string{},
	"log.level":                "info",
	"log.format":               "text",
	"log.color":                false,
	"log.file.dir":             "",
	"log.file.path":            "",
	"server.listen":            "127.0.0.1:8080",
	"server.base_path":         "/api",
	"server.tls.enabled":       false,
	"server.tls.dir":           "",
	"server.tls.auto_generate": false,
	"server.auth.enabled":      false,
	"server.auth.token_ttl":    "24h",
	"metrics.enabled":          false,
	"metrics.listen":           "",
	"history.dsns":             []string{},
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration used when no file is given. Environment
// overrides still apply.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the TOML file at path on top of the defaults. An empty path
// loads defaults and environment overrides only. Relative directories in the
// file are taken relative to the file's directory.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		base := filepath.Dir(filepath.Clean(path))
		c.ServersDir = relTo(base, c.ServersDir)
		c.RuntimeDir = relTo(base, c.RuntimeDir)
		c.Log.File.Dir = relTo(base, c.Log.File.Dir)
		c.Log.File.Path = relTo(base, c.Log.File.Path)
		c.Server.TLS.Dir = relTo(base, c.Server.TLS.Dir)
		c.Server.TLS.CertFile = relTo(base, c.Server.TLS.CertFile)
		c.Server.TLS.KeyFile = relTo(base, c.Server.TLS.KeyFile)
		for i, f := range c.EnvFiles {
			c.EnvFiles[i] = relTo(base, f)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func relTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServersDir) == "" {
		return fmt.Errorf("servers_dir must not be empty")
	}
	if c.BufferCapacity < 0 {
		return fmt.Errorf("buffer_capacity must not be negative")
	}
	if c.PortProbeLimit <= 0 {
		return fmt.Errorf("port_probe_limit must be positive")
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	for _, kv := range c.Env {
		if strings.IndexByte(kv, '=') <= 0 {
			return fmt.Errorf("env entry %q is not KEY=VALUE", kv)
		}
	}
	seen := make(map[string]bool, len(c.Schedules))
	for _, j := range c.Schedules {
		if err := j.Validate(); err != nil {
			return err
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate schedule name %q", j.Name)
		}
		seen[j.Name] = true
	}
	return nil
}

// GlobalEnv merges the env_files contents in order, then the top-level env
// list, which overrides the files.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			set(kv[0], kv[1])
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	pairs, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		out = append(out, kv[0]+"="+kv[1])
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (an optional "export " prefix and
// surrounding quotes are stripped). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := unquote(strings.TrimSpace(line[i+1:]))
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
