// Package ipc implements the framed, newline-delimited JSON channel
// carried over a pair of named pipes between the supervisor and a
// worker process (spec §4.2). FIFOs are a Unix concept; this package
// does not support Windows workers.
package ipc

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/modelserve-go/modelserve/modelerrors"
)

const (
	// PipeInName is the supervisor→worker FIFO file name.
	PipeInName = "pipe_in"
	// PipeOutName is the worker→supervisor FIFO file name.
	PipeOutName = "pipe_out"

	// PipeDirEnvVar is the environment variable that communicates the
	// pipe directory to the spawned worker (spec §6,
	// $MODELSERVE_PIPE_DIR).
	PipeDirEnvVar = "MODELSERVE_PIPE_DIR"

	fifoMode = 0o600
)

// Dir describes the pair of FIFOs backing one channel.
type Dir struct {
	Path string
}

// InPath is the supervisor→worker FIFO.
func (d Dir) InPath() string { return filepath.Join(d.Path, PipeInName) }

// OutPath is the worker→supervisor FIFO.
func (d Dir) OutPath() string { return filepath.Join(d.Path, PipeOutName) }

// NewDir creates a fresh private temp directory and the two FIFOs
// inside it. Called by the server before spawning the worker.
func NewDir() (Dir, error) {
	path, err := os.MkdirTemp("", "modelserve-")
	if err != nil {
		return Dir{}, err
	}
	d := Dir{Path: path}

	if err := unix.Mkfifo(d.InPath(), fifoMode); err != nil {
		os.RemoveAll(path)
		return Dir{}, &modelerrors.EnvError{Reason: "mkfifo pipe_in failed", Err: err}
	}
	if err := unix.Mkfifo(d.OutPath(), fifoMode); err != nil {
		os.RemoveAll(path)
		return Dir{}, &modelerrors.EnvError{Reason: "mkfifo pipe_out failed", Err: err}
	}
	return d, nil
}

// Remove deletes the pipe directory and everything in it. Errors are
// swallowed: cleanup must never fail the caller's own teardown path.
func (d Dir) Remove() {
	if d.Path == "" {
		return
	}
	_ = os.RemoveAll(d.Path)
}
