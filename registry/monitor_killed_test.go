package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/environment"
	"github.com/modelserve-go/modelserve/registry"
)

// killableWorkerScriptTemplate behaves like supervisor_test.go's
// fakeWorkerScript but also drops its own PID into a file on startup,
// letting the test kill it directly (out-of-band, bypassing Stop's
// shutdown handshake) the way Testable Scenario S6 describes.
const killableWorkerScriptTemplate = `#!/bin/sh
echo $$ > "%s"
in="$MODELSERVE_PIPE_DIR/pipe_in"
out="$MODELSERVE_PIPE_DIR/pipe_out"
exec 3<"$in"
exec 4>"$out"
while IFS= read -r line <&3; do
  case "$line" in
    *'"message":"ping"'*)
      printf '{"status":"pong"}\n' >&4 ;;
    *'"message":"shutdown"'*)
      printf '{"status":"shutting_down"}\n' >&4
      break ;;
    *)
      printf '{"error":"unknown message"}\n' >&4 ;;
  esac
done
`

// TestMonitor_RestartsAfterWorkerIsForcefullyKilled exercises spec
// Testable Scenario S6: a running worker is killed out-of-band (not
// via Stop), and after MaxFailures consecutive failed probes the
// monitor restarts it.
func TestMonitor_RestartsAfterWorkerIsForcefullyKilled(t *testing.T) {
	modelDir := t.TempDir()
	binDir := filepath.Join(modelDir, ".modelserve-env", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	pidFile := filepath.Join(modelDir, "worker.pid")
	script := strings.ReplaceAll(killableWorkerScriptTemplate, "%s", pidFile)

	binPath := filepath.Join(binDir, "worker")
	if err := os.WriteFile(binPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write worker script: %v", err)
	}

	d := config.Default()
	d.Name = "killable_model"
	d.ModelDir = modelDir

	reg := registry.New()
	sup, err := reg.Register(&d)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	sup.AutoProvision = false
	env, err := environment.Provision(modelDir, "go.mod", ".", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	sup.SetEnvironment(env)

	ctx := context.Background()
	if err := sup.Start(ctx, 5*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(ctx, 5*time.Second)

	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("reading pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		t.Fatalf("parsing pid: %v", err)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill worker pid %d: %v", pid, err)
	}

	mon := registry.NewMonitor(reg, time.Hour, 500*time.Millisecond, 2)

	restarted := make(chan string, 1)
	mon.OnRestart = func(name string) {
		select {
		case restarted <- name:
		default:
		}
	}

	mon.ProbeOnce() // failure 1
	mon.ProbeOnce() // failure 2, triggers restart

	select {
	case name := <-restarted:
		if name != "killable_model" {
			t.Errorf("restarted model = %q, want killable_model", name)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("expected monitor to restart the killed worker within MaxFailures probes")
	}

	if !sup.Ping(ctx) {
		t.Error("expected supervisor to be reachable again after restart")
	}
}
