package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/modelserve-go/modelserve/internal/log"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(log.Warn, &buf)

	l.Infof("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}

	l.Errorf("boom %d", 42)
	out := buf.String()
	if !strings.Contains(out, "[ERROR]") || !strings.Contains(out, "boom 42") {
		t.Errorf("unexpected log output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"debug":   log.Debug,
		"INFO":    log.Info,
		"warn":    log.Warn,
		"warning": log.Warn,
		"error":   log.Error,
		"bogus":   log.Info,
	}
	for in, want := range cases {
		if got := log.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
