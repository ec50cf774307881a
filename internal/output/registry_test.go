package output

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_EvictsOldest(t *testing.T) {
	r := NewRegistry(0)
	for i := 1; i <= 1001; i++ {
		r.Append("alpha", fmt.Sprintf("line-%d", i))
	}
	snap := r.Snapshot("alpha")
	if len(snap) != 1000 {
		t.Fatalf("len=%d want 1000", len(snap))
	}
	if snap[0] != "line-1001" {
		t.Fatalf("newest first: got %q", snap[0])
	}
	if snap[len(snap)-1] != "line-2" {
		t.Fatalf("oldest kept should be line-2, got %q", snap[len(snap)-1])
	}
	for _, l := range snap {
		if l == "line-1" {
			t.Fatalf("line-1 should have been evicted")
		}
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry(3)
	r.Append("a", "x")
	s := r.Snapshot("a")
	s[0] = "mutated"
	if got, _ := r.Latest("a"); got != "x" {
		t.Fatalf("registry changed through snapshot: %q", got)
	}
}

func TestRegistry_UnknownServer(t *testing.T) {
	r := NewRegistry(10)
	if s := r.Snapshot("ghost"); s == nil || len(s) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", s)
	}
	if _, ok := r.Latest("ghost"); ok {
		t.Fatalf("latest on unknown server should be absent")
	}
	r.Clear("ghost")
	if len(r.Servers()) != 0 {
		t.Fatalf("clear must not create a buffer")
	}
}

func TestRegistry_ClearKeepsBuffer(t *testing.T) {
	r := NewRegistry(10)
	r.Append("a", "1")
	r.Append("a", "2")
	r.Clear("a")
	if r.Len("a") != 0 {
		t.Fatalf("len after clear = %d", r.Len("a"))
	}
	r.Append("a", "3")
	if got, ok := r.Latest("a"); !ok || got != "3" {
		t.Fatalf("latest=%q ok=%v", got, ok)
	}
}

func TestRegistry_ConcurrentAppend(t *testing.T) {
	r := NewRegistry(50)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Append("s", fmt.Sprintf("%d-%d", g, i))
				_ = r.Snapshot("s")
			}
		}(g)
	}
	wg.Wait()
	if r.Len("s") != 50 {
		t.Fatalf("len=%d want 50", r.Len("s"))
	}
}

func TestRegistry_WrapKeepsOrder(t *testing.T) {
	r := NewRegistry(4)
	for i := 1; i <= 11; i++ {
		r.Append("w", fmt.Sprintf("%d", i))
		if latest, _ := r.Latest("w"); latest != fmt.Sprintf("%d", i) {
			t.Fatalf("latest after %d = %q", i, latest)
		}
	}
	want := []string{"11", "10", "9", "8"}
	got := r.Snapshot("w")
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("snapshot=%v want %v", got, want)
	}

	r.Clear("w")
	r.Append("w", "a")
	r.Append("w", "b")
	if got := r.Snapshot("w"); fmt.Sprint(got) != "[b a]" {
		t.Fatalf("snapshot after clear=%v", got)
	}
}

func BenchmarkRegistry_AppendFull(b *testing.B) {
	r := NewRegistry(DefaultCapacity)
	for i := 0; i < DefaultCapacity; i++ {
		r.Append("bench", "warm")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Append("bench", "line")
	}
}
