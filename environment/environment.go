// Package environment provisions an isolated build/dependency cache per
// model and spawns the resulting worker binary (spec §4.1). The
// original isolates a Python interpreter's library search path with a
// per-model virtualenv; a Go worker has no interpreter to isolate, so
// this package isolates the two directories the `go` toolchain
// actually reads from — GOMODCACHE and GOCACHE — under the model's own
// root, and builds a standalone binary from there.
package environment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modelserve-go/modelserve/internal/log"
	"github.com/modelserve-go/modelserve/modelerrors"
)

const envDirName = ".modelserve-env"

// EnvHandle describes a provisioned environment ready to spawn.
type EnvHandle struct {
	modelRoot string
	envDir    string
	binPath   string
}

// InterpreterPath is the built worker binary's path.
func (e EnvHandle) InterpreterPath() string { return e.binPath }

// WorkingDir is the model's own root directory.
func (e EnvHandle) WorkingDir() string { return e.modelRoot }

// ToolchainVersion reports `go version`'s output, best-effort, for
// diagnostics. Returns "" if the toolchain cannot be queried.
func (e EnvHandle) ToolchainVersion() string {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Provision creates (or, when force is set, recreates) modelRoot's
// private build cache, downloads the dependencies named by the
// manifest at manifestRef (default "go.mod" resolved against
// modelRoot), and builds entryPkg into a standalone worker binary.
// Idempotent when force is false and the binary already exists.
func Provision(modelRoot, manifestRef, entryPkg string, force bool) (EnvHandle, error) {
	if manifestRef == "" {
		manifestRef = "go.mod"
	}
	if !filepath.IsAbs(manifestRef) {
		manifestRef = filepath.Join(modelRoot, manifestRef)
	}

	envDir := filepath.Join(modelRoot, envDirName)
	binPath := filepath.Join(envDir, "bin", "worker")

	if force {
		if err := os.RemoveAll(envDir); err != nil {
			return EnvHandle{}, &modelerrors.EnvError{Model: filepath.Base(modelRoot), Reason: "could not remove previous environment", Err: err}
		}
	}

	if !force {
		if info, err := os.Stat(binPath); err == nil && !info.IsDir() {
			log.Global().Debugf("environment: %s already provisioned, skipping", modelRoot)
			return EnvHandle{modelRoot: modelRoot, envDir: envDir, binPath: binPath}, nil
		}
	}

	if _, err := os.Stat(manifestRef); err != nil {
		return EnvHandle{}, &modelerrors.EnvError{
			Model:  filepath.Base(modelRoot),
			Reason: fmt.Sprintf("dependency manifest %q not found", manifestRef),
			Err:    err,
		}
	}

	modCache := filepath.Join(envDir, "gomodcache")
	buildCache := filepath.Join(envDir, "gocache")
	binDir := filepath.Join(envDir, "bin")
	for _, d := range []string{modCache, buildCache, binDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return EnvHandle{}, &modelerrors.EnvError{Model: filepath.Base(modelRoot), Reason: "could not create environment directories", Err: err}
		}
	}

	toolchainEnv := append(os.Environ(),
		"GOMODCACHE="+modCache,
		"GOCACHE="+buildCache,
	)

	if stderr, err := runToolchain(modelRoot, toolchainEnv, "mod", "download"); err != nil {
		return EnvHandle{}, &modelerrors.DependencyInstallError{
			Model:  filepath.Base(modelRoot),
			Stderr: stderr,
			Err:    err,
		}
	}

	if entryPkg == "" {
		entryPkg = "."
	}
	if stderr, err := runToolchain(modelRoot, toolchainEnv, "build", "-o", binPath, entryPkg); err != nil {
		return EnvHandle{}, &modelerrors.DependencyInstallError{
			Model:  filepath.Base(modelRoot),
			Stderr: stderr,
			Err:    err,
		}
	}

	log.Global().Infof("environment: provisioned %s -> %s", modelRoot, binPath)
	return EnvHandle{modelRoot: modelRoot, envDir: envDir, binPath: binPath}, nil
}

func runToolchain(dir string, env []string, args ...string) (string, error) {
	cmd := exec.Command("go", args...)
	cmd.Dir = dir
	cmd.Env = env

	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// ProcessHandle wraps a spawned worker subprocess, exposing exactly
// the operations the supervisor needs: poll, terminate, kill, wait.
// A single background goroutine, started by Spawn, owns the one
// permitted call to cmd.Wait() and records the result here so Poll can
// observe a crash at any time without blocking on an explicit Wait.
type ProcessHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	exited bool
	exit   error
}

// reap runs in its own goroutine for the lifetime of the process,
// calling cmd.Wait() exactly once (os/exec permits no more) and
// recording the outcome for Poll/Wait to read.
func (p *ProcessHandle) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.exit = err
	p.mu.Unlock()
	close(p.done)
}

// Poll reports the exit code if the process has already exited, or
// (nil, true) if it is still running. Reflects live state recorded by
// the background reaper, so a crash is observed without requiring a
// prior call to Wait.
func (p *ProcessHandle) Poll() (*int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		return nil, true
	}
	code := p.cmd.ProcessState.ExitCode()
	return &code, false
}

// Terminate sends SIGTERM.
func (p *ProcessHandle) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (p *ProcessHandle) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Wait blocks until the process exits or timeout elapses, whichever
// comes first. Safe to call more than once, concurrently with Poll;
// it never calls cmd.Wait() itself, only observes the reaper's result.
func (p *ProcessHandle) Wait(timeout time.Duration) error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exit
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Spawn launches env's worker binary with its working directory set to
// the model root, stdout/stderr captured as line streams via the
// supplied writers, and envVars merged over the parent's environment.
func Spawn(ctx context.Context, env EnvHandle, entryArgs []string, envVars map[string]string, stdout, stderr io.Writer) (*ProcessHandle, error) {
	if _, err := os.Stat(env.InterpreterPath()); err != nil {
		return nil, &modelerrors.SpawnError{Model: filepath.Base(env.modelRoot), Err: err}
	}

	cmd := exec.CommandContext(ctx, env.InterpreterPath(), entryArgs...)
	cmd.Dir = env.WorkingDir()

	merged := os.Environ()
	for k, v := range envVars {
		merged = append(merged, k+"="+v)
	}
	cmd.Env = merged

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &modelerrors.SpawnError{Model: filepath.Base(env.modelRoot), Err: err}
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &modelerrors.SpawnError{Model: filepath.Base(env.modelRoot), Err: err}
	}

	if stdout != nil {
		go forwardLines(stdout, outPipe)
	}
	if stderr != nil {
		go forwardLines(stderr, errPipe)
	}

	if err := cmd.Start(); err != nil {
		return nil, &modelerrors.SpawnError{Model: filepath.Base(env.modelRoot), Err: err}
	}

	ph := &ProcessHandle{cmd: cmd, done: make(chan struct{})}
	go ph.reap()
	return ph, nil
}

// forwardLines copies src to dst line by line, the same scanner-based
// idiom used for forwarding a subprocess's output streams elsewhere in
// this codebase.
func forwardLines(dst io.Writer, src io.Reader) {
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		fmt.Fprintln(dst, sc.Text())
	}
}
