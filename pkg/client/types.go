package client

import "time"

// BuildRequest installs a server from an installer file on the daemon host.
type BuildRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Installer string `json:"installer"`
}

// BuildResult is the outcome of a build. Code is 0 on success, 1 on
// failure and 2 when no free port was found.
type BuildResult struct {
	Name   string `json:"name"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

// ServerStatus represents the status of a single server.
type ServerStatus struct {
	Name      string    `json:"name"`
	Family    string    `json:"family"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Result    string    `json:"result"`
	Detector  string    `json:"detector,omitempty"`
}

type inputRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type outputResponse struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Schedule is a console command the daemon sends on a cron schedule.
type Schedule struct {
	Name      string    `json:"name"`
	Server    string    `json:"server"`
	Schedule  string    `json:"schedule"`
	Command   string    `json:"command"`
	TimeZone  string    `json:"time_zone,omitempty"`
	Next      time.Time `json:"next"`
	Prev      time.Time `json:"prev"`
	Runs      int       `json:"runs"`
	Skipped   int       `json:"skipped"`
	LastError string    `json:"last_error,omitempty"`
}

// Event is a recorded build, start, exit or backup of a server.
type Event struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Record     EventRecord `json:"record"`
}

type EventRecord struct {
	Server string `json:"server"`
	Family string `json:"family"`
	PID    int    `json:"pid"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Token is a bearer token issued by the daemon.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
