package attachment

import (
	"sync"

	"github.com/google/uuid"
)

// refPrefix marks local reference URLs.
const refPrefix = "blob:kinber/"

// Registry holds local-only files behind reference URLs until they are
// submitted or released.
type Registry struct {
	mu    sync.Mutex
	files map[string]File
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]File)}
}

// Create registers f and returns its reference URL.
func (r *Registry) Create(f File) string {
	ref := refPrefix + uuid.NewString()
	r.mu.Lock()
	r.files[ref] = f
	r.mu.Unlock()
	return ref
}

// Resolve returns the file behind ref.
func (r *Registry) Resolve(ref string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[ref]
	return f, ok
}

// Release forgets ref. Releasing an unknown ref is a no-op.
func (r *Registry) Release(ref string) {
	r.mu.Lock()
	delete(r.files, ref)
	r.mu.Unlock()
}

// Len reports how many references are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}
