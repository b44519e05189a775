package registry

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/internal/log"
)

// Watcher auto-registers models as their directories appear under a
// watched root, a supplement to the one-shot Discover/RegisterFromDir
// pass: a long-running host process can add a new model directory
// without a restart. Grounded on the teacher's own use of fsnotify
// (internal/config watches for config-file changes); here it watches
// for whole new model directories instead of file edits.
type Watcher struct {
	registry *Registry
	root     string
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// WatchDiscover registers every model currently under root, then
// starts watching root for newly created subdirectories and registers
// each one as it appears (skipping dot-prefixed names, same as
// Discover). A new directory's descriptor is read once, when its
// creation event is handled; only root is watched, so a directory
// whose descriptor is not yet loadable at that moment is not
// registered later. The returned Watcher must be stopped with Close.
func WatchDiscover(reg *Registry, root string) (*Watcher, error) {
	if _, err := reg.RegisterFromDir(root, true, 3); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{registry: reg, root: root, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Global().Warnf("registry: watch error under %q: %v", w.root, err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create == 0 {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	d, err := config.LoadDir(ev.Name)
	if err != nil {
		// Not every new entry is a model directory (could be a plain
		// file, or a directory without a descriptor yet); this is
		// expected, not an error worth logging at warn level.
		log.Global().Debugf("registry: %q has no usable descriptor yet: %v", ev.Name, err)
		return
	}

	if _, err := w.registry.Register(d); err != nil {
		log.Global().Warnf("registry: auto-register of %q failed: %v", d.Name, err)
		return
	}
	log.Global().Infof("registry: auto-registered %q from %q", d.Name, ev.Name)
}

// Close stops the watcher goroutine and releases the underlying
// inotify/kqueue handle. It does not unregister or stop any model the
// watcher already registered.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
