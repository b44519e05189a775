package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/internal/log"
	"github.com/modelserve-go/modelserve/modelerrors"
)

// Discover walks root depth-first looking for model descriptors,
// grounded on original_source/discovery/finder.py's discover_models:
// directories named with a leading dot are skipped; once a directory
// yields a descriptor, its subtree is not scanned further; a
// duplicate model name is logged and the later occurrence dropped.
// maxDepth bounds recursion (root is depth 0, so 0 = only root
// itself); recursive, when false, still scans root's immediate
// children but does not descend further.
func Discover(root string, recursive bool, maxDepth int) (map[string]*config.Descriptor, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, &modelerrors.DiscoveryError{Path: root, Err: err}
	}

	found := make(map[string]*config.Descriptor)
	if err := scanDir(root, 0, recursive, maxDepth, found); err != nil {
		return nil, &modelerrors.DiscoveryError{Path: root, Err: err}
	}
	return found, nil
}

func scanDir(dir string, depth int, recursive bool, maxDepth int, found map[string]*config.Descriptor) error {
	if depth > maxDepth {
		return nil
	}

	if path := config.FindConfig(dir); path != "" {
		d, err := config.ParseFile(path, dir)
		if err != nil {
			log.Global().Warnf("discovery: failed to load descriptor at %q: %v", path, err)
			return nil
		}
		if _, exists := found[d.Name]; exists {
			log.Global().Warnf("discovery: duplicate model name %q found at %q, skipping", d.Name, dir)
			return nil
		}
		found[d.Name] = d
		return nil // a model directory is a leaf; do not recurse into it
	}

	if depth != 0 && !recursive {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := scanDir(filepath.Join(dir, entry.Name()), depth+1, recursive, maxDepth, found); err != nil {
			return err
		}
	}
	return nil
}
