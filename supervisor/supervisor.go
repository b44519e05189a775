// Package supervisor owns one model's worker lifecycle: provisioning
// its environment, spawning it, performing the channel handshake, and
// serialising every request/reply pair across it (spec §4.4). It
// generalises the teacher's internal/supervisor package from "N
// restart-looping subprocesses with no request channel" to "one
// process per Supervisor, with a bidirectional channel and a mutex
// guarding every request".
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/environment"
	"github.com/modelserve-go/modelserve/internal/log"
	"github.com/modelserve-go/modelserve/internal/proc"
	"github.com/modelserve-go/modelserve/ipc"
	"github.com/modelserve-go/modelserve/modelerrors"
)

// State is the supervisor-side lifecycle state machine.
type State int

const (
	Idle State = iota
	Provisioning
	Spawning
	Handshaking
	Running
	Stopping
	ProvisionFailed
	StartupFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Provisioning:
		return "provisioning"
	case Spawning:
		return "spawning"
	case Handshaking:
		return "handshaking"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case ProvisionFailed:
		return "provision_failed"
	case StartupFailed:
		return "startup_failed"
	default:
		return "unknown"
	}
}

// Supervisor owns exactly one model's process and channel. Every
// public method is safe to call from any goroutine.
type Supervisor struct {
	descriptor *config.Descriptor

	// AutoProvision controls whether Start provisions an environment
	// when none exists yet. Defaults to true via New.
	AutoProvision bool

	mu    sync.RWMutex // guards state/env/proc/server, not the channel mutex
	state State
	env   environment.EnvHandle
	proc  *environment.ProcessHandle

	server *ipc.Server
	stderr *proc.Ring

	// reqMu is the per-supervisor mutex guarding every Request,
	// the single-flight invariant Testable Property 1 requires.
	reqMu sync.Mutex
}

// New builds a Supervisor for d. It does not provision or start
// anything; call Start for that.
func New(d *config.Descriptor) *Supervisor {
	return &Supervisor{
		descriptor:    d,
		AutoProvision: true,
		state:         Idle,
		stderr:        proc.NewRing(proc.DefaultRingSize),
	}
}

// State reports the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start provisions (if enabled and needed), spawns, and handshakes
// with the worker. Idempotent: calling Start on an already-Running
// supervisor is a no-op with a logged warning.
func (s *Supervisor) Start(ctx context.Context, timeout time.Duration) error {
	if s.State() == Running {
		log.Global().Warnf("supervisor: Start called on %q which is already running", s.descriptor.Name)
		return nil
	}

	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.setState(Provisioning)
	if s.AutoProvision {
		env, err := environment.Provision(s.descriptor.ModelDir, s.descriptor.RequirementsPath(), s.descriptor.Client.Module, false)
		if err != nil {
			s.setState(ProvisionFailed)
			return err
		}
		s.mu.Lock()
		s.env = env
		s.mu.Unlock()
	}

	s.setState(Spawning)
	srv := &ipc.Server{}
	if _, err := srv.Setup(); err != nil {
		s.setState(StartupFailed)
		return &modelerrors.StartupError{Model: s.descriptor.Name, Reason: "channel setup failed", Err: err}
	}

	s.stderr = proc.NewRing(proc.DefaultRingSize)
	envVars := map[string]string{ipc.PipeDirEnvVar: srv.DirPath()}
	if len(s.descriptor.Resources.GPUIDs) > 0 {
		envVars["CUDA_VISIBLE_DEVICES"] = joinInts(s.descriptor.Resources.GPUIDs)
	}

	// The worker outlives this Start call (and its ctx); Stop ends it.
	ph, err := environment.Spawn(context.Background(), s.env, nil, envVars, discardWriter{}, proc.RingWriter(s.stderr))
	if err != nil {
		srv.Close()
		s.setState(StartupFailed)
		return err
	}

	s.mu.Lock()
	s.proc = ph
	s.server = srv
	s.mu.Unlock()

	s.setState(Handshaking)
	if err := srv.Connect(startCtx); err != nil {
		s.teardown()
		s.setState(StartupFailed)
		return &modelerrors.StartupError{Model: s.descriptor.Name, Reason: "handshake timed out", Stderr: s.stderr.String(), Err: err}
	}

	reply, err := srv.Request("ping", nil)
	if err != nil || reply["status"] != "pong" {
		s.teardown()
		s.setState(StartupFailed)
		reason := "worker did not respond to initial ping"
		if err != nil {
			reason = err.Error()
		}
		return &modelerrors.StartupError{Model: s.descriptor.Name, Reason: reason, Stderr: s.stderr.String()}
	}

	s.setState(Running)
	log.Global().Infof("supervisor: %q is running", s.descriptor.Name)
	return nil
}

// Stop sends shutdown, waits up to timeout, escalates to Terminate
// then Kill on expiry, and always releases the channel and temp
// directory. Idempotent.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	if s.State() == Idle {
		return nil
	}
	s.setState(Stopping)

	s.mu.RLock()
	srv := s.server
	ph := s.proc
	s.mu.RUnlock()

	if srv != nil {
		s.reqMu.Lock()
		_, _ = srv.Request("shutdown", nil)
		s.reqMu.Unlock()
	}

	if ph != nil {
		if err := ph.Wait(timeout); errors.Is(err, context.DeadlineExceeded) {
			log.Global().Warnf("supervisor: %q did not exit after shutdown, terminating", s.descriptor.Name)
			_ = ph.Terminate()
			if err := ph.Wait(5 * time.Second); errors.Is(err, context.DeadlineExceeded) {
				log.Global().Warnf("supervisor: %q did not exit after terminate, killing", s.descriptor.Name)
				_ = ph.Kill()
				_ = ph.Wait(5 * time.Second)
			}
		}
	}

	s.teardown()
	s.setState(Idle)
	return nil
}

func (s *Supervisor) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		s.server.Close()
		s.server = nil
	}
	s.proc = nil
}

// Restart stops then starts the supervisor under its existing
// configuration.
func (s *Supervisor) Restart(ctx context.Context, timeout time.Duration) error {
	if err := s.Stop(ctx, timeout); err != nil {
		return err
	}
	return s.Start(ctx, timeout)
}

// Request sends handler with data to the worker and returns its reply.
// Requires the supervisor to be Running; detects process death before
// issuing the request, decorating the resulting error with the
// captured stderr tail.
func (s *Supervisor) Request(ctx context.Context, handler string, data interface{}) (map[string]interface{}, error) {
	if s.State() != Running {
		return nil, &modelerrors.NotStartedError{Model: s.descriptor.Name}
	}

	s.mu.RLock()
	srv := s.server
	ph := s.proc
	s.mu.RUnlock()

	if ph != nil {
		if _, running := ph.Poll(); !running {
			return nil, &modelerrors.RequestError{Model: s.descriptor.Name, Reason: "worker process has exited", Stderr: s.stderr.String()}
		}
	}

	s.reqMu.Lock()
	reply, err := srv.Request(handler, data)
	s.reqMu.Unlock()

	if err != nil {
		return nil, &modelerrors.RequestError{Model: s.descriptor.Name, Reason: err.Error(), Stderr: s.stderr.String(), Err: err}
	}
	if msg, isErr := reply.IsError(); isErr {
		return nil, &modelerrors.RequestError{Model: s.descriptor.Name, Reason: msg, Stderr: s.stderr.String()}
	}
	return reply, nil
}

// Ping is a non-raising health check: true if the worker replies
// {"status":"pong"}, false on any error. ctx is not applied to the
// exchange: a worker that never replies blocks Ping until it does.
func (s *Supervisor) Ping(ctx context.Context) bool {
	reply, err := s.Request(ctx, "ping", nil)
	if err != nil {
		return false
	}
	return reply["status"] == "pong"
}

// SetEnvironment pre-assigns an already-provisioned environment,
// for callers that disable AutoProvision and provision out of band
// (e.g. a shared build step ahead of StartAll).
func (s *Supervisor) SetEnvironment(env environment.EnvHandle) {
	s.mu.Lock()
	s.env = env
	s.mu.Unlock()
}

// Name returns the descriptor's model name.
func (s *Supervisor) Name() string { return s.descriptor.Name }

// Descriptor returns the descriptor backing this supervisor.
func (s *Supervisor) Descriptor() *config.Descriptor { return s.descriptor }

func joinInts(ids []int) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", id)
	}
	return out
}

// discardWriter is an io.Writer that throws away the worker's stdout:
// the spec's channel carries every exchange the supervisor cares
// about, so stdout has no protocol role (unlike the teacher's
// subprocess mode, which forwards stdout as its actual metric
// payload).
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
