package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/environment"
	"github.com/modelserve-go/modelserve/supervisor"
)

// fakeWorkerScript is a minimal shell implementation of the channel
// protocol: it answers ping/shutdown and echoes everything else as an
// error, letting these tests exercise the supervisor's handshake and
// request path without depending on a compiled Go worker binary.
const fakeWorkerScript = `#!/bin/sh
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
    *'"message":"echo"'*)
      printf '{"result":"ok"}\n' >&4 ;;
    *)
      printf '{"error":"unknown message"}\n' >&4 ;;
  esac
done
`

func newFakeSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	modelDir := t.TempDir()

	binDir := filepath.Join(modelDir, ".modelserve-env", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	binPath := filepath.Join(binDir, "worker")
	if err := os.WriteFile(binPath, []byte(fakeWorkerScript), 0o755); err != nil {
		t.Fatalf("write worker script: %v", err)
	}

	d := config.Default()
	d.Name = "fake_model"
	d.ModelDir = modelDir

	sup := supervisor.New(&d)
	sup.AutoProvision = false
	sup.SetEnvironment(environmentHandleFor(modelDir, binPath))
	return sup
}

// environmentHandleFor builds an EnvHandle via the public Provision
// path, relying on its idempotent fast path (binary already present)
// rather than reaching into environment's unexported fields.
func environmentHandleFor(modelDir, binPath string) environment.EnvHandle {
	env, err := environment.Provision(modelDir, "go.mod", ".", false)
	if err != nil {
		panic(err)
	}
	_ = binPath
	return env
}

func TestSupervisor_StartRequestStop(t *testing.T) {
	sup := newFakeSupervisor(t)
	ctx := context.Background()

	if err := sup.Start(ctx, 5*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sup.State() != supervisor.Running {
		t.Fatalf("State = %v, want Running", sup.State())
	}

	if !sup.Ping(ctx) {
		t.Error("Ping returned false on a running worker")
	}

	reply, err := sup.Request(ctx, "echo", map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply["result"] != "ok" {
		t.Errorf("reply = %+v", reply)
	}

	if err := sup.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.State() != supervisor.Idle {
		t.Errorf("State after Stop = %v, want Idle", sup.State())
	}
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	sup := newFakeSupervisor(t)
	ctx := context.Background()

	if err := sup.Start(ctx, 5*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(ctx, 5*time.Second)

	if err := sup.Start(ctx, 5*time.Second); err != nil {
		t.Fatalf("second Start returned an error: %v", err)
	}
	if sup.State() != supervisor.Running {
		t.Errorf("State = %v, want Running", sup.State())
	}
}

func TestSupervisor_RequestBeforeStartIsNotStartedError(t *testing.T) {
	sup := newFakeSupervisor(t)
	ctx := context.Background()

	if _, err := sup.Request(ctx, "echo", nil); err == nil {
		t.Fatal("expected NotStartedError before Start")
	}
}

func TestSupervisor_ConcurrentRequestsAreSerialized(t *testing.T) {
	sup := newFakeSupervisor(t)
	ctx := context.Background()

	if err := sup.Start(ctx, 5*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(ctx, 5*time.Second)

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := sup.Request(ctx, "echo", map[string]interface{}{"n": i})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Request failed: %v", err)
		}
	}
}
