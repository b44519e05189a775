// Package config loads and validates model descriptors: the structured
// document that declares a model's identity, entry point, dependency
// manifest, handlers, and health/resource policy (spec §3, §6).
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/modelserve-go/modelserve/modelerrors"
)

// nameRe matches the descriptor's required name pattern: alphanumeric
// with underscores or hyphens.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reservedHandlers names that the worker dispatcher injects itself;
// a descriptor (or a worker.Base registration) may never declare them.
var reservedHandlers = map[string]bool{"ping": true, "shutdown": true}

// ClientEntry identifies the worker's entry point. In this Go-native
// reading of the spec, Module is a path (relative to the model
// directory) to the Go package built as the worker binary, and Class
// is free-form metadata describing which exported type within it
// implements worker.Base — Go has no runtime class lookup, so Class is
// carried through for documentation/logging only.
type ClientEntry struct {
	Module string `koanf:"module"`
	Class  string `koanf:"class"`
}

// Handler describes one entry in the descriptor's handler list. Input
// and Output are opaque schema records: this spec does not validate
// their shape, only that a handler declares a name.
type Handler struct {
	Name   string                 `koanf:"name"`
	Input  map[string]interface{} `koanf:"input"`
	Output map[string]interface{} `koanf:"output"`
}

// HealthPolicy is the model's declared health policy. The registry's
// Monitor does not read it: its interval, timeout and failure
// threshold are the values passed to NewMonitor.
type HealthPolicy struct {
	IntervalSeconds     int `koanf:"interval"`
	TimeoutSeconds      int `koanf:"timeout"`
	MaxConsecutiveFails int `koanf:"max_failures"`
}

func (h HealthPolicy) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

func (h HealthPolicy) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// Resources carries optional resource hints; the supervisor does not
// enforce them, it only forwards GPUIDs into the worker's environment
// (CUDA_VISIBLE_DEVICES) per spec §6.
type Resources struct {
	MemoryLimit string `koanf:"memory_limit"`
	CPULimit    int    `koanf:"cpu_limit"`
	GPUIDs      []int  `koanf:"gpu_ids"`
}

// Descriptor is the immutable-after-load configuration for one model.
type Descriptor struct {
	Name         string       `koanf:"name"`
	Version      string       `koanf:"version"`
	Python       string       `koanf:"python"`
	Client       ClientEntry  `koanf:"client"`
	Requirements string       `koanf:"requirements"`
	Handlers     []Handler    `koanf:"handlers"`
	Health       HealthPolicy `koanf:"health"`
	Resources    Resources    `koanf:"resources"`

	// Extra preserves top-level keys the schema does not recognise,
	// per the Open Question resolution: unknown keys are kept, not
	// rejected, for forward compatibility.
	Extra map[string]interface{} `koanf:"-"`

	// ModelDir is set by the loader, never present in the descriptor
	// file itself.
	ModelDir string `koanf:"-"`
}

// Default returns a Descriptor pre-filled with every field's documented
// default, ready to be overlaid with values parsed from a file.
func Default() Descriptor {
	return Descriptor{
		Version:      "1.0.0",
		Python:       "", // vestigial; unused by the Go worker runtime
		Requirements: "go.mod",
		Health: HealthPolicy{
			IntervalSeconds:     30,
			TimeoutSeconds:      5,
			MaxConsecutiveFails: 3,
		},
	}
}

// HandlerNames returns the declared handler names in order.
func (d *Descriptor) HandlerNames() []string {
	names := make([]string, len(d.Handlers))
	for i, h := range d.Handlers {
		names[i] = h.Name
	}
	return names
}

// Handler returns the named handler's config, if declared.
func (d *Descriptor) Handler(name string) (Handler, bool) {
	for _, h := range d.Handlers {
		if h.Name == name {
			return h, true
		}
	}
	return Handler{}, false
}

// RequirementsPath returns the manifest path resolved against ModelDir.
func (d *Descriptor) RequirementsPath() string {
	if d.ModelDir == "" {
		return d.Requirements
	}
	if filepath.IsAbs(d.Requirements) {
		return d.Requirements
	}
	return filepath.Join(d.ModelDir, d.Requirements)
}

// Validate checks the invariants spec §3 requires: a valid name,
// unique handler names, and that ping/shutdown are not declared by the
// model itself (they are injected by worker.Base).
func (d *Descriptor) Validate() error {
	if d.Name == "" || !nameRe.MatchString(d.Name) {
		return &modelerrors.ConfigInvalidError{
			Path:   d.ModelDir,
			Reason: fmt.Sprintf("model name %q must be alphanumeric with underscores or hyphens", d.Name),
		}
	}

	seen := make(map[string]bool, len(d.Handlers))
	for _, h := range d.Handlers {
		if h.Name == "" {
			return &modelerrors.ConfigInvalidError{Path: d.ModelDir, Reason: "handler with empty name"}
		}
		if reservedHandlers[h.Name] {
			return &modelerrors.ConfigInvalidError{
				Path:   d.ModelDir,
				Reason: fmt.Sprintf("handler name %q is reserved", h.Name),
			}
		}
		if seen[h.Name] {
			return &modelerrors.ConfigInvalidError{
				Path:   d.ModelDir,
				Reason: fmt.Sprintf("duplicate handler name %q", h.Name),
			}
		}
		seen[h.Name] = true
	}

	return nil
}
