package classify

import (
	"regexp"
	"strings"
)

// EULATrigger is always honoured: the server will not start until the EULA is accepted.
const EULATrigger = "agree to the eula"

// PreparingLevelTrigger stops a first run once the world has been generated.
const PreparingLevelTrigger = "preparing level"

// prefixRe matches "[time] [thread/LEVEL]: msg" and "date time [LEVEL] msg".
var prefixRe = regexp.MustCompile(`^(?:\[[^\]]+\] \[[^\]]+\]: |[\d-]+ [\d:]+ \[[^\]]+\] )(.+)$`)

// Classifier turns a raw output line into an Event. ok is false for blank lines.
type Classifier interface {
	Classify(line string) (res Result, ok bool)
}

// Whitelist holds substrings of error lines that are known to be harmless.
type Whitelist []string

// Matches reports whether s contains any whitelisted substring.
func (w Whitelist) Matches(s string) bool {
	for _, item := range w {
		if item != "" && strings.Contains(s, item) {
			return true
		}
	}
	return false
}

// Options tunes a classifier.
type Options struct {
	Whitelist Whitelist
	// Triggers are lower-case substrings that request termination.
	// EULATrigger is added automatically.
	Triggers []string
	// LoadingIsInfo treats LOADING lines as info.
	LoadingIsInfo bool
}

func (o Options) triggers() []string {
	out := []string{EULATrigger}
	for _, t := range o.Triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && t != EULATrigger {
			out = append(out, t)
		}
	}
	return out
}

// Generic understands the log prefix most server families print.
type Generic struct {
	whitelist Whitelist
	triggers  []string
	loading   bool
}

// NewGeneric returns a prefix-aware classifier.
func NewGeneric(o Options) *Generic {
	return &Generic{whitelist: o.Whitelist, triggers: o.triggers(), loading: o.LoadingIsInfo}
}

func (g *Generic) Classify(line string) (Result, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, false
	}

	// Without a recognised prefix the whole line is both the type section and the message.
	section, msg := line, line
	if m := prefixRe.FindStringSubmatch(line); m != nil {
		section, msg = m[0], strings.TrimSpace(m[1])
	}

	var ev Event
	switch {
	case strings.Contains(section, "ERROR") || strings.Contains(section, "Exception"):
		if g.whitelist.Matches(section) {
			ev = Event{Severity: Other, Message: line}
		} else {
			ev = Event{Severity: Error, Message: msg}
		}
	case strings.Contains(section, "WARN"):
		ev = Event{Severity: Warn, Message: msg}
	case strings.Contains(section, "INFO") || (g.loading && strings.Contains(section, "LOADING")):
		ev = Event{Severity: Info, Message: msg}
	default:
		ev = rescan(line)
	}
	return Result{Event: ev, Signal: signal(ev.Message, g.triggers)}, true
}

// Simple applies plain substring rules to the raw line. Used for families
// whose installers print without the usual prefix.
type Simple struct {
	whitelist Whitelist
	triggers  []string
}

// NewSimple returns a substring classifier.
func NewSimple(o Options) *Simple {
	return &Simple{whitelist: o.Whitelist, triggers: o.triggers()}
}

func (s *Simple) Classify(line string) (Result, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, false
	}
	var ev Event
	switch {
	case strings.Contains(line, "ERROR") || strings.HasPrefix(line, "Exception"):
		if s.whitelist.Matches(line) {
			ev = Event{Severity: Other, Message: line}
		} else {
			ev = Event{Severity: Error, Message: line}
		}
	case strings.Contains(line, "WARN"):
		ev = Event{Severity: Warn, Message: line}
	case strings.Contains(line, "INFO") || strings.Contains(line, "LOADING"):
		ev = Event{Severity: Info, Message: line}
	default:
		ev = rescan(line)
	}
	return Result{Event: ev, Signal: signal(ev.Message, s.triggers)}, true
}

// rescan promotes unprefixed lines that mention an error token.
func rescan(line string) Event {
	for _, tok := range strings.Fields(strings.ToLower(line)) {
		if strings.HasPrefix(tok, "error") {
			return Event{Severity: Error, Message: line}
		}
	}
	return Event{Severity: Other, Message: line}
}

func signal(msg string, triggers []string) Signal {
	lower := strings.ToLower(msg)
	for _, t := range triggers {
		if strings.Contains(lower, t) {
			return Terminate
		}
	}
	return None
}
