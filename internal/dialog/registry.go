package dialog

import (
	"sync"

	"github.com/nextlevelbuilder/minds/internal/bus"
)

// Registry is the process-wide map of live root dialogs by rootId.
// The bus resolves postDialogEventById targets through it and the web
// surface routes user input with it.
type Registry struct {
	mu    sync.RWMutex
	roots map[string]*RootDialog
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{roots: make(map[string]*RootDialog)}
}

// Register adds a root dialog. Explicit on creation and on load.
func (r *Registry) Register(root *RootDialog) {
	r.mu.Lock()
	r.roots[root.ID().RootID] = root
	r.mu.Unlock()
}

// Deregister removes a root, on terminal or dead.
func (r *Registry) Deregister(rootID string) {
	r.mu.Lock()
	delete(r.roots, rootID)
	r.mu.Unlock()
}

// Get looks up a live root by id.
func (r *Registry) Get(rootID string) (*RootDialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	root, ok := r.roots[rootID]
	return root, ok
}

// List returns all live roots.
func (r *Registry) List() []*RootDialog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RootDialog, 0, len(r.roots))
	for _, root := range r.roots {
		out = append(out, root)
	}
	return out
}

// Resolver adapts the registry for bus.PostByID lookups. Keys are
// "rootId" for roots and "rootId#selfId" for subdialogs.
func (r *Registry) Resolver() bus.Resolver {
	return func(key string) (bus.Poster, bool) {
		id, err := ParseKey(key)
		if err != nil {
			return nil, false
		}
		root, ok := r.Get(id.RootID)
		if !ok {
			return nil, false
		}
		if id.IsRoot() {
			return root, true
		}
		sd, ok := root.Child(id.SelfID)
		if !ok {
			return nil, false
		}
		return sd, true
	}
}
