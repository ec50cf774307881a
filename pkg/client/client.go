package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the mcvisor daemon
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	token    string
	username string
	password string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	CACert   string       // CA certificate file for an https endpoint
	Insecure bool         // Skip TLS verification
	Token    string       // Bearer token from Login
	Username string       // Basic auth, used when Token is empty
	Password string
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// APIError is returned for non-success responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// New creates a new mcvisor API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.CACert != "" || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		token:    config.Token,
		username: config.Username,
		password: config.Password,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Build installs a server. With wait the call blocks until the build
// finished and returns its result; otherwise the daemon builds in the
// background and the returned result is empty.
func (c *Client) Build(ctx context.Context, req BuildRequest, wait bool) (BuildResult, error) {
	c.logger.Debug("building server", "name", req.Name, "type", req.Type)
	data, err := json.Marshal(req)
	if err != nil {
		return BuildResult{}, fmt.Errorf("marshal request: %w", err)
	}
	q := url.Values{}
	if wait {
		q.Set("wait", "true")
	}
	var res BuildResult
	if err := c.do(ctx, http.MethodPost, "/build", q, data, &res); err != nil {
		return BuildResult{}, err
	}
	return res, nil
}

// Start launches a built server.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/start", url.Values{"name": {name}}, nil, nil)
}

// Stop asks a server to shut down. wait bounds each escalation step on
// the daemon; zero uses its configured timeout.
func (c *Client) Stop(ctx context.Context, name string, wait time.Duration) error {
	q := url.Values{"name": {name}}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	return c.do(ctx, http.MethodPost, "/stop", q, nil, nil)
}

// Status returns the status of one server.
func (c *Client) Status(ctx context.Context, name string) (ServerStatus, error) {
	var st ServerStatus
	err := c.do(ctx, http.MethodGet, "/status", url.Values{"name": {name}}, nil, &st)
	return st, err
}

// StatusAll returns the status of every server.
func (c *Client) StatusAll(ctx context.Context) ([]ServerStatus, error) {
	var sts []ServerStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &sts)
	return sts, err
}

// Output returns the buffered output of a server, newest line first.
// With latest only the newest line is returned.
func (c *Client) Output(ctx context.Context, name string, latest bool) ([]string, error) {
	q := url.Values{"name": {name}}
	if latest {
		q.Set("latest", "true")
	}
	var out outputResponse
	if err := c.do(ctx, http.MethodGet, "/output", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// ClearOutput empties the output buffer of a server.
func (c *Client) ClearOutput(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/output/clear", url.Values{"name": {name}}, nil, nil)
}

// WriteInput sends one line to a running server's console.
func (c *Client) WriteInput(ctx context.Context, name, text string) error {
	data, err := json.Marshal(inputRequest{Name: name, Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/input", nil, data, nil)
}

// Schedules lists the console commands the daemon sends on a schedule.
func (c *Client) Schedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	err := c.do(ctx, http.MethodGet, "/schedules", nil, nil, &out)
	return out, err
}

// History returns up to limit recorded lifecycle events of a server,
// newest first. A limit of zero uses the daemon's default.
func (c *Client) History(ctx context.Context, name string, limit int) ([]Event, error) {
	q := url.Values{"name": {name}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Event
	err := c.do(ctx, http.MethodGet, "/history", q, nil, &out)
	return out, err
}

// Login exchanges a username and password for a token. Later requests
// made by this client carry it.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	var tok Token
	data, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return tok, fmt.Errorf("marshal request: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, data, &tok); err != nil {
		return tok, err
	}
	c.token = tok.Value
	return tok, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// do performs an HTTP request and decodes a JSON response into out when set.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var er ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: er.Error}
	}
	if out == nil || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
