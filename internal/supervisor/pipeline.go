package supervisor

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/loykin/mcvisor/internal/classify"
	"github.com/loykin/mcvisor/internal/metrics"
	"github.com/loykin/mcvisor/internal/output"
)

// pipeline handles the output lines of one process. handle is called from
// both stream pumps concurrently.
type pipeline struct {
	server string
	cls    classify.Classifier
	state  *classify.State
	reg    *output.Registry
	sink   output.Sink
	log    *slog.Logger
	kill   func() error
	killed atomic.Bool
}

func (p *pipeline) handle(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if p.reg != nil {
		metrics.SetBufferedLines(p.server, p.reg.Append(p.server, line))
	}
	res, ok := p.cls.Classify(line)
	if !ok {
		return
	}
	p.state.Record(res.Event.Severity)
	metrics.IncLogEvent(p.server, res.Event.Severity.String())
	if p.sink != nil {
		p.sink.Write(p.server, res.Event)
	}
	if res.Signal == classify.Terminate && p.kill != nil && p.killed.CompareAndSwap(false, true) {
		metrics.IncTermination(p.server)
		p.log.Info("terminating process tree", "trigger", res.Event.Message)
		if err := p.kill(); err != nil {
			p.log.Warn("kill process tree", "error", err)
		}
	}
}

// resultLabel names a termination state value.
func resultLabel(v int) string {
	switch v {
	case classify.Unset:
		return "unset"
	case classify.Info.Code():
		return "info"
	case classify.Error.Code():
		return "error"
	case classify.Warn.Code():
		return "warn"
	}
	return "other"
}
