package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndHelpersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("alpha")
	IncLogEvent("alpha", "warn")
	IncLogEvent("alpha", "warn")
	RecordStateTransition("alpha", "first-run", "running")
	ObserveBackup("alpha", "server", true, 1.5)
	IncPortFailure("beta")
	IncBuild("forge", "0")
	SetBufferedLines("alpha", 42)
	IncTermination("alpha")
	IncExit("alpha", "error")

	if got := testutil.ToFloat64(logEvents.WithLabelValues("alpha", "warn")); got != 2 {
		t.Fatalf("warn events = %v", got)
	}
	if got := testutil.ToFloat64(currentStates.WithLabelValues("alpha", "running")); got != 1 {
		t.Fatalf("running state gauge = %v", got)
	}
	if got := testutil.ToFloat64(currentStates.WithLabelValues("alpha", "first-run")); got != 0 {
		t.Fatalf("first-run state gauge = %v", got)
	}
	if got := testutil.ToFloat64(runningServers); got != 0 {
		t.Fatalf("running servers = %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"mcvisor_server_starts_total":              false,
		"mcvisor_log_events_total":                 false,
		"mcvisor_backup_duration_seconds":          false,
		"mcvisor_port_allocation_failures_total":   false,
		"mcvisor_build_results_total":              false,
		"mcvisor_output_buffered_lines":            false,
		"mcvisor_server_forced_terminations_total": false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for n, ok := range want {
		if !ok {
			t.Fatalf("expected metric %s", n)
		}
	}
}

func TestHandlerServes(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if rr.Code != 200 || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("unexpected metrics response: %d", rr.Code)
	}
}
