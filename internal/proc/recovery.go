// Package proc holds small process-management helpers: panic
// recovery wrappers and the bounded stderr ring buffer that
// supervisor uses to capture a worker's stderr.
package proc

import (
	"fmt"

	"github.com/modelserve-go/modelserve/internal/log"
)

// WithRecoveryContinue runs fn, logging and swallowing any panic so
// that it does not propagate to the caller.
func WithRecoveryContinue(operation, model string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s panic recovered for model %s: %v", operation, model, r)
		}
	}()
	fn()
}

// WithRecoveryError runs fn, converting any panic into an error.
func WithRecoveryError(operation, model string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s panic recovered for model %s: %v", operation, model, r)
			err = fmt.Errorf("panic in %s: %v", operation, r)
		}
	}()
	return fn()
}
