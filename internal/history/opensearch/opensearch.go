// Package opensearch indexes history events as OpenSearch documents over
// its REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/mcvisor/internal/history"
)

const defaultIndex = "mcvisor-history"

// mapping keeps server and type exact so they can be filtered with term.
const mapping = `{"mappings":{"properties":{
	"type":{"type":"keyword"},
	"occurred_at":{"type":"date"},
	"record":{"properties":{
		"server":{"type":"keyword"},
		"family":{"type":"keyword"},
		"pid":{"type":"long"},
		"status":{"type":"keyword"},
		"detail":{"type":"text"}}}}}}`

// Sink posts one document per event to {base}/{index}/_doc.
type Sink struct {
	client   *http.Client
	base     string
	index    string
	user     string
	password string
}

// ParseDSN turns opensearch://[user:pass@]host:port/index[?secure=true]
// into a base URL, index and credentials.
func ParseDSN(dsn string) (base, index, user, password string, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", "", "", err
	}
	if u.Host == "" {
		return "", "", "", "", fmt.Errorf("opensearch DSN %q has no host", dsn)
	}
	scheme := "http"
	if u.Query().Get("secure") == "true" {
		scheme = "https"
	}
	index = strings.Trim(u.Path, "/")
	if index == "" {
		index = defaultIndex
	}
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	return scheme + "://" + u.Host, index, user, password, nil
}

// New checks the index exists, creating it with a keyword mapping when it
// does not.
func New(dsn string) (*Sink, error) {
	base, index, user, password, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{
		client:   &http.Client{Timeout: 5 * time.Second},
		base:     base,
		index:    index,
		user:     user,
		password: password,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureIndex(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodHead, "/"+s.index, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	resp, err = s.do(ctx, http.MethodPut, "/"+s.index, []byte(mapping))
	if err != nil {
		return err
	}
	return check(resp, "create index "+s.index)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodPost, "/"+s.index+"/_doc", b)
	if err != nil {
		return err
	}
	return check(resp, "index event")
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source history.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Recent returns up to limit events of server, newest first.
func (s *Sink) Recent(ctx context.Context, server string, limit int) ([]history.Event, error) {
	q := map[string]any{
		"size":  limit,
		"sort":  []any{map[string]any{"occurred_at": map[string]string{"order": "desc"}}},
		"query": map[string]any{"term": map[string]any{"record.server": server}},
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, http.MethodPost, "/"+s.index+"/_search", b)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, check(resp, "search")
	}
	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]history.Event, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *Sink) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	return s.client.Do(req)
}

// check closes resp and turns a non-2xx status into an error.
func check(resp *http.Response, what string) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("opensearch %s: status %d: %s", what, resp.StatusCode, bytes.TrimSpace(msg))
}
