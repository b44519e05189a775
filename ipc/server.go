package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/modelserve-go/modelserve/modelerrors"
)

// Server is the supervisor side of a channel: it writes requests to
// pipe_in and reads replies from pipe_out. All public methods are
// safe for concurrent use; Request serialises send+receive pairs so
// concurrent callers observe correctly matched replies (spec §4.2,
// Testable Property 1).
type Server struct {
	mu sync.Mutex

	dir    Dir
	in     *os.File
	out    *bufio.Reader
	outRaw *os.File

	connected bool
}

// DirPath returns the pipe directory path, valid after Setup. Spawned
// workers receive it via MODELSERVE_PIPE_DIR so they can open the
// complementary FIFO ends.
func (s *Server) DirPath() string { return s.dir.Path }

// Setup creates a fresh pipe directory and the two FIFOs inside it.
// Must be called before Connect, and before the worker is spawned: the
// worker needs the directory path (via PipeDirEnvVar) to open its own
// ends.
func (s *Server) Setup() (Dir, error) {
	dir, err := NewDir()
	if err != nil {
		return Dir{}, err
	}
	s.dir = dir
	return dir, nil
}

// Connect opens pipe_in for writing and pipe_out for reading. Both
// opens block until the worker opens the complementary end — this is
// the handshake point. ctx bounds how long Connect will wait.
func (s *Server) Connect(ctx context.Context) error {
	if s.dir.Path == "" {
		return &modelerrors.ChannelNotConnectedError{Reason: "Setup() was not called"}
	}

	in, err := openWithContext(ctx, s.dir.InPath(), os.O_WRONLY)
	if err != nil {
		return err
	}

	out, err := openWithContext(ctx, s.dir.OutPath(), os.O_RDONLY)
	if err != nil {
		in.Close()
		return err
	}

	s.mu.Lock()
	s.in = in
	s.outRaw = out
	s.out = bufio.NewReader(out)
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Send writes one JSON-encoded request line and flushes it.
func (s *Server) Send(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(req)
}

func (s *Server) sendLocked(req Request) error {
	if !s.connected {
		return &modelerrors.ChannelNotConnectedError{Reason: "send before connect"}
	}
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')
	_, err = s.in.Write(line)
	return err
}

// Recv reads one reply line. Returns ChannelClosedError on EOF.
func (s *Server) Recv() (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvLocked()
}

func (s *Server) recvLocked() (Reply, error) {
	if !s.connected {
		return nil, &modelerrors.ChannelNotConnectedError{Reason: "recv before connect"}
	}
	line, err := s.out.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, &modelerrors.ChannelClosedError{Reason: "worker closed its end of the channel"}
	}
	var reply Reply
	if jsonErr := json.Unmarshal(line, &reply); jsonErr != nil {
		return nil, fmt.Errorf("decode reply: %w", jsonErr)
	}
	return reply, nil
}

// Request sends a message and waits for the matching reply, holding
// the channel mutex across both steps so that concurrent callers see
// a serial send/receive history (spec §4.2 "Ordering").
func (s *Server) Request(message string, data interface{}) (Reply, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode request data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sendLocked(Request{Message: message, Data: payload}); err != nil {
		return nil, err
	}
	return s.recvLocked()
}

// Close closes both FIFO ends and removes the pipe directory. All
// errors are swallowed per spec §4.2.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if s.in != nil {
		_ = s.in.Close()
		s.in = nil
	}
	if s.outRaw != nil {
		_ = s.outRaw.Close()
		s.outRaw = nil
	}
	s.out = nil
	s.dir.Remove()
}

// openWithContext opens path with the given flag, unblocking early if
// ctx is cancelled before the peer opens the complementary end. The
// opening goroutine is abandoned (not killed) on cancellation; it will
// complete once a peer eventually opens the fifo, or leak harmlessly
// until process exit if none ever does — acceptable since this only
// happens on an already-failing startup path.
func openWithContext(ctx context.Context, path string, flag int) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)

	go func() {
		f, err := os.OpenFile(path, flag, 0)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		return r.f, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
