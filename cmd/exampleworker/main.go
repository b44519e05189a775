// Command exampleworker is a minimal model worker demonstrating the
// worker package's handler registration, request/reply wrapping, and
// panic recovery, grounded on original_source/examples/simple_echo
// and the teacher's demo module (internal/modules/demo/demo.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelserve-go/modelserve/internal/log"
	"github.com/modelserve-go/modelserve/ipc"
	"github.com/modelserve-go/modelserve/worker"
)

// panicTriggerFile lets a test or operator force the raise handler
// down its panic path without modifying the binary, the same
// file-sentinel trick the teacher's demo module uses for its own
// panic simulation.
const panicTriggerFile = "/tmp/modelserve-exampleworker-panic"

type echoArgs struct {
	Message string `json:"message"`
}

type uppercaseArgs struct {
	Text string `json:"text"`
}

func main() {
	dir, err := ipc.DirFromEnv()
	if err != nil {
		log.Global().Errorf("exampleworker: %v", err)
		os.Exit(1)
	}

	b := &worker.Base{}
	b.Setup = func() error {
		log.Global().Infof("exampleworker: setup complete")
		return nil
	}
	b.Teardown = func() {
		log.Global().Infof("exampleworker: teardown")
	}

	b.Handle("echo", handleEcho)
	b.Handle("uppercase", handleUppercase)
	b.Handle("simple", handleSimple)
	b.Handle("raise", handleRaise)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := b.Run(ctx, dir); err != nil {
		log.Global().Errorf("exampleworker: %v", err)
		os.Exit(1)
	}
}

func handleEcho(data json.RawMessage) (interface{}, error) {
	var args echoArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("Handler argument error: %v", err)
	}
	return map[string]interface{}{"echoed": args.Message}, nil
}

func handleUppercase(data json.RawMessage) (interface{}, error) {
	var args uppercaseArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("Handler argument error: %v", err)
	}
	return map[string]interface{}{"result": strings.ToUpper(args.Text)}, nil
}

// handleSimple returns a bare string, demonstrating the non-object
// result-wrapping rule: the dispatcher wraps it as {"result": "pong!"}.
func handleSimple(data json.RawMessage) (interface{}, error) {
	return "pong!", nil
}

// handleRaise panics only when panicTriggerFile exists, exercising the
// dispatcher's panic-to-error-reply path end to end; otherwise it
// returns a plain error.
func handleRaise(data json.RawMessage) (interface{}, error) {
	if _, err := os.Stat(panicTriggerFile); err != nil {
		return nil, fmt.Errorf("raise handler requires %s to exist", panicTriggerFile)
	}
	panic("exampleworker: raise handler triggered")
}
