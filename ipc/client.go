package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/modelserve-go/modelserve/modelerrors"
)

// Client is the worker side of a channel: it reads requests from
// pipe_in and writes replies to pipe_out. A Client is used from a
// single goroutine (the worker's dispatch loop); it holds no internal
// lock.
type Client struct {
	dir Dir

	inRaw *os.File
	in    *bufio.Reader
	out   *os.File
}

// DirFromEnv resolves the pipe directory a spawned worker was handed
// via MODELSERVE_PIPE_DIR.
func DirFromEnv() (Dir, error) {
	path := os.Getenv(PipeDirEnvVar)
	if path == "" {
		return Dir{}, &modelerrors.ChannelNotConnectedError{Reason: PipeDirEnvVar + " is not set"}
	}
	return Dir{Path: path}, nil
}

// Connect opens pipe_in for reading and pipe_out for writing — the
// mirror image of Server.Connect, and the other half of the handshake.
func (c *Client) Connect(ctx context.Context, dir Dir) error {
	c.dir = dir

	in, err := openWithContext(ctx, dir.InPath(), os.O_RDONLY)
	if err != nil {
		return err
	}

	out, err := openWithContext(ctx, dir.OutPath(), os.O_WRONLY)
	if err != nil {
		in.Close()
		return err
	}

	c.inRaw = in
	c.in = bufio.NewReader(in)
	c.out = out
	return nil
}

// Recv reads one request line. Returns ChannelClosedError on EOF,
// meaning the supervisor closed the channel and the worker should
// exit its dispatch loop.
func (c *Client) Recv() (Request, error) {
	if c.in == nil {
		return Request{}, &modelerrors.ChannelNotConnectedError{Reason: "recv before connect"}
	}
	line, err := c.in.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return Request{}, &modelerrors.ChannelClosedError{Reason: "supervisor closed its end of the channel"}
	}
	var req Request
	if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
		return Request{}, fmt.Errorf("decode request: %w", jsonErr)
	}
	return req, nil
}

// Send writes one JSON-encoded reply line.
func (c *Client) Send(reply Reply) error {
	if c.out == nil {
		return &modelerrors.ChannelNotConnectedError{Reason: "send before connect"}
	}
	line, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	line = append(line, '\n')
	_, err = c.out.Write(line)
	return err
}

// Close closes both FIFO ends. The worker does not own the pipe
// directory and never removes it — that is the supervisor's job.
func (c *Client) Close() {
	if c.inRaw != nil {
		_ = c.inRaw.Close()
		c.inRaw = nil
	}
	if c.out != nil {
		_ = c.out.Close()
		c.out = nil
	}
	c.in = nil
}
