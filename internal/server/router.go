package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mcvisor/internal/auth"
	"github.com/loykin/mcvisor/internal/cron"
	"github.com/loykin/mcvisor/internal/family"
	"github.com/loykin/mcvisor/internal/history"
	"github.com/loykin/mcvisor/internal/metrics"
	"github.com/loykin/mcvisor/internal/output"
	"github.com/loykin/mcvisor/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing servers.
// Endpoints:
//   POST {basePath}/build         body: {"name","type","installer"}; query wait=true blocks for the result
//   POST {basePath}/start         query: name=...
//   POST {basePath}/stop          query: name=...&wait=10s (wait optional)
//   GET  {basePath}/status        query: name=... (single) or nothing (all servers)
//   GET  {basePath}/output        query: name=...&latest=true (latest optional)
//   POST {basePath}/output/clear  query: name=...
//   POST {basePath}/input         body: {"name","text"}
//   GET  {basePath}/schedules     when a scheduler is attached
//   GET  {basePath}/history       query: name=...&limit=50; when history is attached
//   GET  {basePath}/metrics       when metrics are enabled
//   POST {basePath}/auth/login    body: {"username","password"}; when auth is enabled
// With auth enabled every other endpoint except metrics needs a Bearer token
// or basic credentials.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *supervisor.Manager
	sched    *cron.Scheduler
	history  history.Querier
	auth     *auth.Service
	basePath string
	metrics  bool
	// writeTimeout bounds responses of NewServer; builds and stops that
	// block for their result are exempt.
	writeTimeout time.Duration
}

const defaultWriteTimeout = 15 * time.Second

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/start, /api/stop, /api/status.
func NewRouter(mgr *supervisor.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath), writeTimeout: defaultWriteTimeout}
}

// WithWriteTimeout sets the response write timeout used by NewServer.
func (r *Router) WithWriteTimeout(d time.Duration) *Router {
	if d > 0 {
		r.writeTimeout = d
	}
	return r
}

// WithMetrics mounts the Prometheus handler under {basePath}/metrics.
func (r *Router) WithMetrics(enabled bool) *Router {
	r.metrics = enabled
	return r
}

// WithSchedules exposes the entries of s under {basePath}/schedules.
func (r *Router) WithSchedules(s *cron.Scheduler) *Router {
	r.sched = s
	return r
}

// WithHistory serves recorded lifecycle events under {basePath}/history.
func (r *Router) WithHistory(q history.Querier) *Router {
	r.history = q
	return r
}

// WithAuth requires authentication on the API. A nil service leaves it open.
func (r *Router) WithAuth(s *auth.Service) *Router {
	r.auth = s
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	base := g.Group(r.basePath)
	if r.metrics {
		base.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := base.Group("")
	if r.auth != nil {
		base.POST("/auth/login", r.auth.LoginHandler)
		group.Use(r.auth.GinAuth())
	}
	group.POST("/build", r.handleBuild)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/output", r.handleOutput)
	group.POST("/output/clear", r.handleClearOutput)
	group.POST("/input", r.handleInput)
	if r.sched != nil {
		group.GET("/schedules", r.handleSchedules)
	}
	if r.history != nil {
		group.GET("/history", r.handleHistory)
	}
	return r.longRunning(g)
}

// longRunning lifts the server write deadline for requests that block on a
// build or a stop, which may take minutes. Writers that cannot change their
// deadline are left alone.
func (r *Router) longRunning(next http.Handler) http.Handler {
	build, stop := r.basePath+"/build", r.basePath+"/stop"
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost {
			blocking := req.URL.Path == stop
			if req.URL.Path == build {
				v, _ := strconv.ParseBool(req.URL.Query().Get("wait"))
				blocking = v
			}
			if blocking {
				_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
			}
		}
		next.ServeHTTP(w, req)
	})
}

// NewServer starts a standalone HTTP server on addr using this router.
// With a non-nil tlsCfg it serves HTTPS. The listener is bound before
// returning so address errors surface here.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      r.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if tlsCfg != nil {
			_ = server.ServeTLS(ln, "", "")
			return
		}
		_ = server.Serve(ln)
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// BuildRequest is the body of POST /build.
type BuildRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Installer string `json:"installer"`
}

// BuildResponse reports a finished build.
type BuildResponse struct {
	Name   string `json:"name"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

// InputRequest is the body of POST /input.
type InputRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// OutputResponse carries buffered output, newest line first.
type OutputResponse struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

func (r *Router) handleBuild(c *gin.Context) {
	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !validServerName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-], no leading dot, at most 64 characters"})
		return
	}
	kind, err := family.Parse(req.Type)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if !validInstaller(req.Installer) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid installer: must be an absolute, clean path to a .jar file"})
		return
	}
	if !queryBool(c, "wait") {
		go func() {
			_, _ = r.mgr.Build(context.Background(), req.Name, kind, req.Installer)
		}()
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
		return
	}
	code, err := r.mgr.Build(c.Request.Context(), req.Name, kind, req.Installer)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, BuildResponse{Name: req.Name, Code: int(code), Result: code.String()})
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	if err := r.mgr.Start(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	var wait time.Duration
	if ws := c.Query("wait"); ws != "" {
		d, err := time.ParseDuration(ws)
		if err != nil || d < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait duration"})
			return
		}
		wait = d
	}
	if err := r.mgr.Stop(name, wait); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		names, err := r.mgr.Servers()
		if err != nil {
			writeError(c, err)
			return
		}
		sts := make([]supervisor.ServerStatus, 0, len(names))
		for _, n := range names {
			st, err := r.mgr.Status(n)
			if err != nil {
				writeError(c, err)
				return
			}
			sts = append(sts, st)
		}
		writeJSON(c, http.StatusOK, sts)
		return
	}
	if !validServerName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	st, err := r.mgr.Status(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleOutput(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	resp := OutputResponse{Name: name, Lines: []string{}}
	if queryBool(c, "latest") {
		if line, ok := r.mgr.Latest(name); ok {
			resp.Lines = append(resp.Lines, line)
		}
		writeJSON(c, http.StatusOK, resp)
		return
	}
	if lines := r.mgr.Output(name); lines != nil {
		resp.Lines = lines
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleClearOutput(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	r.mgr.ClearOutput(name)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleInput(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !validServerName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := r.mgr.WriteInput(ctx, req.Name, req.Text); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSchedules(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sched.Entries())
}

const maxHistoryLimit = 1000

func (r *Router) handleHistory(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	limit := 50
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := r.history.Recent(c.Request.Context(), name, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func nameParam(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return "", false
	}
	if !validServerName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return "", false
	}
	return name, true
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

func statusFor(err error) int {
	var cfg *supervisor.ConfigError
	switch {
	case errors.Is(err, supervisor.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrUnknownServer),
		errors.Is(err, history.ErrNoQuerier):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, output.ErrNoListener):
		return http.StatusConflict
	case errors.As(err, &cfg):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
