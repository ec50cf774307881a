package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzRuntimeMerge checks that whatever runtime directory and global
// overrides are given, the merged environment stays well formed and a
// resolved runtime ends up first on PATH.
func FuzzRuntimeMerge(f *testing.F) {
	f.Add("/opt/runtimes/jdk-21", "MC_OPTS=-Xmx2G")
	f.Add("java", "PATH=${PATH}")
	f.Add("", "A=${B}\nB=${A}")
	f.Add("/srv/java with space", "=nokey")

	f.Fuzz(func(t *testing.T, runtimePath, globals string) {
		if strings.ContainsAny(runtimePath, "=$\x00\n"+string(os.PathListSeparator)) {
			t.Skip()
		}
		e := New()
		e.env = Var{"PATH": "/usr/bin"}
		for _, kv := range strings.Split(globals, "\n") {
			if k, v, ok := strings.Cut(kv, "="); ok {
				e = e.WithSet(k, v)
			}
		}
		out := e.Merge(Runtime(runtimePath))

		got := make(map[string]string, len(out))
		for _, kv := range out {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair: %q", kv)
			}
			got[k] = v
		}
		if runtimePath == "" || runtimePath == "java" {
			return
		}
		if got["JAVA_HOME"] != runtimePath {
			t.Fatalf("JAVA_HOME=%q want %q", got["JAVA_HOME"], runtimePath)
		}
		first := strings.SplitN(got["PATH"], string(os.PathListSeparator), 2)[0]
		if first != filepath.Join(runtimePath, "bin") {
			t.Fatalf("runtime not first on PATH: %q", got["PATH"])
		}
	})
}
