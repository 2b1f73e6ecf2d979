package config

import (
	"os"
	"sync"

	"github.com/animus-ai/animus-go/internal/appdir"
	"github.com/animus-ai/animus-go/internal/fileutil"
)

// Workspaces maps thread ids to working directories, with an optional
// default used for threads that have no mapping of their own. Turns started
// on a thread carry the effective workspace as the cwd hint. Persisted as
// workspaces.json in the Animus data directory.
type Workspaces struct {
	mu   sync.Mutex
	path string
	def  string
	dirs map[string]string
}

type workspacesFile struct {
	Default string            `json:"default,omitempty"`
	Threads map[string]string `json:"threads"`
}

// LoadWorkspaces reads the workspace map, returning an empty map when the
// file does not exist yet.
func LoadWorkspaces() (*Workspaces, error) {
	path, err := appdir.WorkspacesPath()
	if err != nil {
		return nil, err
	}
	w := &Workspaces{path: path, dirs: map[string]string{}}
	var file workspacesFile
	if err := fileutil.ReadJSON(path, &file); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return w, nil
	}
	w.def = file.Default
	if file.Threads != nil {
		w.dirs = file.Threads
	}
	return w, nil
}

// Dir returns the effective workspace for a thread. Threads without a
// mapping of their own fall back to the default ("" when neither is set).
func (w *Workspaces) Dir(threadID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if dir, ok := w.dirs[threadID]; ok {
		return dir
	}
	return w.def
}

// Default returns the fallback workspace ("" when unset).
func (w *Workspaces) Default() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.def
}

// SetDefault records the fallback workspace and persists. An empty dir
// clears it.
func (w *Workspaces) SetDefault(dir string) error {
	w.mu.Lock()
	w.def = dir
	file, path := w.snapshotLocked()
	w.mu.Unlock()
	return fileutil.WriteJSONAtomic(path, file, 0644)
}

// Set records a thread's workspace and persists the map. An empty dir
// removes the entry.
func (w *Workspaces) Set(threadID, dir string) error {
	w.mu.Lock()
	if dir == "" {
		delete(w.dirs, threadID)
	} else {
		w.dirs[threadID] = dir
	}
	file, path := w.snapshotLocked()
	w.mu.Unlock()
	return fileutil.WriteJSONAtomic(path, file, 0644)
}

// Len returns the number of mapped threads.
func (w *Workspaces) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

func (w *Workspaces) snapshotLocked() (workspacesFile, string) {
	threads := make(map[string]string, len(w.dirs))
	for k, v := range w.dirs {
		threads[k] = v
	}
	return workspacesFile{Default: w.def, Threads: threads}, w.path
}
