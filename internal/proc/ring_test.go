package proc_test

import (
	"strings"
	"testing"

	"github.com/modelserve-go/modelserve/internal/proc"
)

func TestRing_TailOrderBeforeWrap(t *testing.T) {
	r := proc.NewRing(3)
	r.Add("a")
	r.Add("b")

	got := r.Tail()
	want := []string{"a", "b"}
	if !equal(got, want) {
		t.Fatalf("Tail() = %v, want %v", got, want)
	}
}

func TestRing_EvictsOldestOnWrap(t *testing.T) {
	r := proc.NewRing(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		r.Add(line)
	}

	got := r.Tail()
	want := []string{"c", "d", "e"}
	if !equal(got, want) {
		t.Fatalf("Tail() = %v, want %v", got, want)
	}
}

func TestRing_DrainInto(t *testing.T) {
	r := proc.NewRing(10)
	src := strings.NewReader("line one\nline two\nline three\n")

	if err := proc.DrainInto(r, src); err != nil {
		t.Fatalf("DrainInto: %v", err)
	}

	if got := r.String(); got != "line one\nline two\nline three" {
		t.Errorf("String() = %q", got)
	}
}

func TestRingWriter_SplitsLines(t *testing.T) {
	r := proc.NewRing(10)
	w := proc.RingWriter(r)

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("world\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []string{"hello", "world"}
	if got := r.Tail(); !equal(got, want) {
		t.Errorf("Tail() = %v, want %v", got, want)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
