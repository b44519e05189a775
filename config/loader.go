package config

import (
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/modelserve-go/modelserve/modelerrors"
)

// RecognisedFileNames lists the descriptor file names discovery and
// loading accept, in lookup order.
var RecognisedFileNames = []string{"model.yaml", "model.yml", "model.toml"}

// knownTopLevelKeys are the keys Descriptor understands; everything
// else is preserved verbatim in Descriptor.Extra.
var knownTopLevelKeys = map[string]bool{
	"name": true, "version": true, "python": true, "client": true,
	"requirements": true, "handlers": true, "health": true, "resources": true,
}

func parserFor(path string) koanf.Parser {
	switch filepath.Ext(path) {
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// FindConfig returns the path to the descriptor file in dir, checking
// RecognisedFileNames in order, or "" if none exists.
func FindConfig(dir string) string {
	for _, name := range RecognisedFileNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// ParseFile loads and validates a descriptor from an explicit file
// path. modelDir, if non-empty, overrides the descriptor's directory
// (it defaults to the file's parent directory).
func ParseFile(path string, modelDir string) (*Descriptor, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, &modelerrors.ConfigInvalidError{Path: path, Reason: "cannot read or parse descriptor", Err: err}
	}

	d := Default()
	if err := k.Unmarshal("", &d); err != nil {
		return nil, &modelerrors.ConfigInvalidError{Path: path, Reason: "schema mismatch", Err: err}
	}

	d.Extra = extraKeys(k.Raw())

	if modelDir == "" {
		modelDir = filepath.Dir(path)
	}
	d.ModelDir = modelDir

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDir finds and loads the descriptor inside dir. Returns
// ConfigInvalidError if no recognised descriptor file exists.
func LoadDir(dir string) (*Descriptor, error) {
	path := FindConfig(dir)
	if path == "" {
		return nil, &modelerrors.ConfigInvalidError{
			Path:   dir,
			Reason: "no model.yaml/model.yml/model.toml found",
		}
	}
	return ParseFile(path, dir)
}

func extraKeys(raw map[string]interface{}) map[string]interface{} {
	extra := make(map[string]interface{})
	for k, v := range raw {
		if !knownTopLevelKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// Serialize round-trips a Descriptor back to its on-disk form, filling
// in recognised defaults. format is "yaml" or "toml".
func Serialize(d *Descriptor, format string) ([]byte, error) {
	m := map[string]interface{}{
		"name":         d.Name,
		"version":      d.Version,
		"python":       d.Python,
		"requirements": d.Requirements,
		"client": map[string]interface{}{
			"module": d.Client.Module,
			"class":  d.Client.Class,
		},
		"health": map[string]interface{}{
			"interval":     d.Health.IntervalSeconds,
			"timeout":      d.Health.TimeoutSeconds,
			"max_failures": d.Health.MaxConsecutiveFails,
		},
		"resources": map[string]interface{}{
			"memory_limit": d.Resources.MemoryLimit,
			"cpu_limit":    d.Resources.CPULimit,
			"gpu_ids":      d.Resources.GPUIDs,
		},
	}

	handlers := make([]map[string]interface{}, len(d.Handlers))
	for i, h := range d.Handlers {
		handlers[i] = map[string]interface{}{
			"name":   h.Name,
			"input":  h.Input,
			"output": h.Output,
		}
	}
	m["handlers"] = handlers

	for k, v := range d.Extra {
		m[k] = v
	}

	var parser koanf.Parser
	if format == "toml" {
		parser = toml.Parser()
	} else {
		parser = yaml.Parser()
	}
	return parser.Marshal(m)
}
