package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/loykin/mcvisor/internal/classify"
)

func TestConsoleSink_Prefixes(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)
	s.Write("alpha", classify.Event{Severity: classify.Error, Message: "boom"})
	s.Write("alpha", classify.Event{Severity: classify.Warn, Message: "careful"})
	s.Write("alpha", classify.Event{Severity: classify.Info, Message: "ok"})
	out := buf.String()
	for _, want := range []string{"[alpha] [ERROR] boom", "[alpha] [WARN] careful", "[alpha] ok"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestMulti_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewConsoleSink(&a), Discard, NewConsoleSink(&b)}
	m.Write("s", classify.Event{Severity: classify.Other, Message: "x"})
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatalf("both sinks should receive the event")
	}
}
