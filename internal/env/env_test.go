package env

import (
	"strings"
	"testing"
)

func lookup(list []string, key string) (string, bool) {
	for _, kv := range list {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestRuntimePrependsPath(t *testing.T) {
	e := &Env{env: Var{"PATH": "/usr/bin", "HOME": "/root"}}
	out := e.Merge(Runtime("/opt/rt/jdk-21"))
	if v, _ := lookup(out, "JAVA_HOME"); v != "/opt/rt/jdk-21" {
		t.Fatalf("JAVA_HOME=%q", v)
	}
	if v, _ := lookup(out, "PATH"); v != "/opt/rt/jdk-21/bin:/usr/bin" {
		t.Fatalf("PATH=%q", v)
	}
	if v, _ := lookup(out, "HOME"); v != "/root" {
		t.Fatalf("HOME lost: %q", v)
	}
}

func TestRuntimeSystemJava(t *testing.T) {
	if Runtime("java") != nil || Runtime("") != nil {
		t.Fatalf("system runtime must not add entries")
	}
}

func TestMergeOrder(t *testing.T) {
	e := (&Env{env: Var{"A": "os", "B": "os"}}).WithSet("B", "global").WithSet("C", "${A}-c")
	out := e.Merge([]string{"A=proc", "=bad", "noequals"})
	want := []string{"A=proc", "B=global", "C=os-c"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", out, want)
	}
}
