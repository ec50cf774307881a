package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/loykin/mcvisor"
	itls "github.com/loykin/mcvisor/internal/tls"
	"github.com/loykin/mcvisor/pkg/client"
)

// exitCodeError ends the program with code without printing anything.
type exitCodeError struct{ code int }

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// apiURL derives the daemon endpoint from the [server] section.
func apiURL(c *mcvisor.Config) string {
	host := c.Server.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	host = strings.Replace(host, "0.0.0.0:", "127.0.0.1:", 1)
	base := strings.TrimRight(c.Server.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	scheme := "http://"
	if c.Server.TLS.Enabled {
		scheme = "https://"
	}
	return scheme + host + base
}

func newClient(configPath string, f APIFlags) (*client.Client, error) {
	cc := client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Token:    f.APIToken,
		Username: f.APIUser,
		Password: f.APIPassword,
	}
	if cc.BaseURL == "" || strings.HasPrefix(cc.BaseURL, "https://") {
		c, err := mcvisor.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if cc.BaseURL == "" {
			cc.BaseURL = apiURL(c)
		}
		cc.CACert = itls.CACertPath(c.Server.TLS)
	}
	return client.New(cc), nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
