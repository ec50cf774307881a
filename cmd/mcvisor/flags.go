package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a command talks to.
type APIFlags struct {
	APIUrl      string
	APITimeout  time.Duration
	APIToken    string
	APIUser     string
	APIPassword string
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type BuildFlags struct {
	ConfigPath string
	Name       string
	Type       string
	Installer  string
	Remote     bool
	APIFlags
}

type RunFlags struct {
	ConfigPath string
	Name       string
}

type NameFlags struct {
	ConfigPath string
	Name       string
	APIFlags
}

type StopFlags struct {
	ConfigPath string
	Name       string
	Wait       time.Duration
	APIFlags
}

type OutputFlags struct {
	ConfigPath string
	Name       string
	Latest     bool
	APIFlags
}

type InputFlags struct {
	ConfigPath string
	Name       string
	Text       string
	APIFlags
}

type LoginFlags struct {
	ConfigPath string
	Username   string
	Password   string
	APIFlags
}

type HistoryFlags struct {
	ConfigPath string
	Name       string
	Limit      int
	APIFlags
}
