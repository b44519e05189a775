package environment_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/modelserve-go/modelserve/environment"
)

func TestProvision_MissingManifestIsEnvError(t *testing.T) {
	dir := t.TempDir()

	if _, err := environment.Provision(dir, "go.mod", ".", false); err == nil {
		t.Fatal("expected error for missing go.mod")
	}
}

func TestProvision_IdempotentWhenBinaryExists(t *testing.T) {
	dir := t.TempDir()
	envDir := filepath.Join(dir, ".modelserve-env", "bin")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	binPath := filepath.Join(envDir, "worker")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	env, err := environment.Provision(dir, "go.mod", ".", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if env.InterpreterPath() != binPath {
		t.Errorf("InterpreterPath = %q, want %q", env.InterpreterPath(), binPath)
	}
	if env.WorkingDir() != dir {
		t.Errorf("WorkingDir = %q, want %q", env.WorkingDir(), dir)
	}
}

func TestSpawn_LaunchesAndCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fifo/process semantics assume unix")
	}

	dir := t.TempDir()
	binDir := filepath.Join(dir, ".modelserve-env", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	script := "#!/bin/sh\necho hello-stdout\necho hello-stderr 1>&2\n"
	binPath := filepath.Join(binDir, "worker")
	if err := os.WriteFile(binPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	env, err := environment.Provision(dir, "go.mod", ".", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, err := environment.Spawn(ctx, env, nil, nil, &stdout, &stderr)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := proc.Wait(2 * time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	time.Sleep(50 * time.Millisecond) // let forwarding goroutines drain
	if !bytes.Contains(stdout.Bytes(), []byte("hello-stdout")) {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !bytes.Contains(stderr.Bytes(), []byte("hello-stderr")) {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestProcessHandle_PollObservesCrashWithoutExplicitWait(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fifo/process semantics assume unix")
	}

	dir := t.TempDir()
	binDir := filepath.Join(dir, ".modelserve-env", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	binPath := filepath.Join(binDir, "worker")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	env, err := environment.Provision(dir, "go.mod", ".", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	proc, err := environment.Spawn(ctx, env, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if _, running := proc.Poll(); !running {
		t.Fatalf("expected process to be running immediately after Spawn")
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	// Poll alone, with no call to Wait, must eventually observe the
	// crash: the background reaper records it independently.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, running := proc.Poll(); !running {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Poll never observed the killed process as exited")
}
