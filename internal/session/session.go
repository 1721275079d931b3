// Package session implements the session registry: the notebook-session
// bookkeeping layer that binds a notebook path/name to a kernel id,
// independent of the kernel's own lifecycle.
package session

import (
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session: not found")

// Session is one entry in the registry, mirroring Jupyter's session model.
type Session struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	KernelID string `json:"kernel_id"`
}

// Registry tracks the 1:1 binding between a session and a kernel. A
// session's lifecycle is independent of its kernel's: deleting a session
// never shuts down its kernel, and a kernel dying does not remove its
// session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds an empty session registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session bound to kernelID, under explicitID when
// the client chose one or a freshly generated UUID otherwise. An explicit
// id already in use is rejected, mirroring how explicit kernel ids behave.
// If a session already exists for the given path, it is replaced (Jupyter
// allows only one session per notebook path).
func (r *Registry) Create(path, name, sessionType, kernelID, explicitID string) (*Session, error) {
	id := explicitID
	if id == "" {
		u, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "generating session id")
		}
		id = u.String()
	}
	s := &Session{
		ID:       id,
		Path:     path,
		Name:     name,
		Type:     sessionType,
		KernelID: kernelID,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, errors.Errorf("session: id %q already in use", id)
	}
	for sid, existing := range r.sessions {
		if existing.Path == path {
			delete(r.sessions, sid)
		}
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns every session, in no particular order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Update renames a session's path and/or name. Empty arguments leave the
// corresponding field unchanged, matching PATCH semantics.
func (r *Registry) Update(id, path, name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if path != "" {
		s.Path = path
	}
	if name != "" {
		s.Name = name
	}
	return s, nil
}

// Delete removes a session without affecting its kernel.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// DeleteByKernel removes every session bound to kernelID, used when a
// kernel is explicitly shut down: deleting a kernel cleans up sessions that
// pointed at it, even though deleting a session never cascades to the
// kernel.
func (r *Registry) DeleteByKernel(kernelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.KernelID == kernelID {
			delete(r.sessions, id)
		}
	}
}
