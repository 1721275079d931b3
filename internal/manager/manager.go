// Package manager implements the kernel manager: the map from kernel id to
// running kernel, capacity enforcement, and seed-notebook execution on
// newly created kernels.
//
// Seeding blocks kernel creation until every seed cell has executed
// successfully; a seed failure tears the kernel back down rather than
// leaving a half-seeded kernel registered.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
	"github.com/kernelgateway/kgatewayd/internal/kernelspec"
)

// ErrCapacityExceeded is returned by Create when max kernels are already
// running; callers surface it as HTTP 403.
var ErrCapacityExceeded = errors.New("manager: kernel capacity exceeded")

// ErrNotFound is returned by Get/Shutdown for an unknown kernel id.
var ErrNotFound = errors.New("manager: kernel not found")

// ErrUnknownSpec is returned by Create for a kernelspec name the registry
// does not know; callers surface it as a NoSuchKernel 500.
var ErrUnknownSpec = errors.New("manager: no such kernel spec")

// ErrSeedFailed is returned by Create when a seed cell fails to execute;
// the kernel is already torn down by the time callers see it.
var ErrSeedFailed = errors.New("manager: seed cell execution failed")

// SeedCell is one code cell of the seed notebook, in execution order.
type SeedCell struct {
	KernelName string // kernelspec name the seed notebook targets
	Source     string
}

// Info is a snapshot of one kernel's externally visible state, used for
// GET /api/kernels and GET /api/kernels/{id}.
type Info struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	LastActivity   time.Time `json:"last_activity"`
	ExecutionState string    `json:"execution_state"`
	Connections    int       `json:"connections"`
}

// Manager owns every running kernel and enforces the gateway's capacity
// limit. The zero value is not usable; construct with New.
type Manager struct {
	mu      sync.Mutex
	kernels map[string]*kernelclient.Kernel
	order   map[string]time.Time // id -> creation time, for Listing order

	registry   *kernelspec.Registry
	maxKernels int
	opts       kernelclient.Options
	forceName  string

	seedCells  []SeedCell
	shouldSeed func(kernelName, source string) bool
}

// New builds a Manager. maxKernels <= 0 means unbounded.
func New(registry *kernelspec.Registry, maxKernels int, opts kernelclient.Options) *Manager {
	return &Manager{
		kernels:    make(map[string]*kernelclient.Kernel),
		order:      make(map[string]time.Time),
		registry:   registry,
		maxKernels: maxKernels,
		opts:       opts,
		shouldSeed: func(string, string) bool { return true },
	}
}

// SetSeed installs the seed notebook's cells and an optional predicate
// controlling which cells execute for a given kernel name (endpoint and
// response-metadata cells are never seeded).
func (m *Manager) SetSeed(cells []SeedCell, shouldSeed func(kernelName, source string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seedCells = cells
	if shouldSeed != nil {
		m.shouldSeed = shouldSeed
	}
}

// ForceKernelName overrides the requested kernelspec name on every Create,
// unconditionally. An empty name disables the override.
func (m *Manager) ForceKernelName(name string) {
	m.mu.Lock()
	m.forceName = name
	m.mu.Unlock()
}

// Registry returns the kernelspec registry this manager launches from, used
// by the raw surface's GET /api/kernelspecs.
func (m *Manager) Registry() *kernelspec.Registry {
	return m.registry
}

// Count returns the number of currently tracked (non-dead) kernels.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.kernels)
}

// Create provisions a new kernel, optionally under an explicit id, and -- if
// a seed notebook is configured and its kernelspec matches -- blocks until
// every seed cell has executed. A seed failure shuts the kernel back down
// and returns the error; no kernel is left registered.
//
// Explicit ids are serialized per-id: two concurrent Create calls for the
// same id never both succeed.
func (m *Manager) Create(ctx context.Context, kernelName string, explicitID string, envOverrides map[string]string) (*kernelclient.Kernel, error) {
	m.mu.Lock()
	force := m.forceName
	m.mu.Unlock()
	if force != "" {
		kernelName = force
	}
	if kernelName == "" {
		kernelName = m.registry.Default()
	}
	spec, ok := m.registry.Get(kernelName)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSpec, "%q", kernelName)
	}

	id := explicitID
	if id == "" {
		u, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "generating kernel id")
		}
		id = u.String()
	}

	if err := m.reserveSlot(id); err != nil {
		return nil, err
	}

	k, err := kernelclient.Launch(ctx, id, spec, envOverrides, m.opts)
	if err != nil {
		m.releaseSlot(id)
		return nil, err
	}
	k.DeadHook(m.onDead)

	m.mu.Lock()
	m.kernels[k.ID] = k
	m.order[k.ID] = time.Now()
	m.mu.Unlock()

	if err := m.seed(ctx, k, spec); err != nil {
		klog.Errorf("manager: seeding kernel %s failed, tearing down: %v", k.ID, err)
		m.Shutdown(context.Background(), k.ID)
		return nil, err
	}

	return k, nil
}

// reserveSlot checks capacity and that id is not already in flight,
// returning the reservation atomically with the check.
func (m *Manager) reserveSlot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.kernels[id]; exists {
		return errors.Errorf("manager: kernel id %q already in use", id)
	}
	if m.maxKernels > 0 && len(m.kernels) >= m.maxKernels {
		return ErrCapacityExceeded
	}
	// Reserve the slot with a nil placeholder so a concurrent Create for the
	// same explicit id fails fast instead of racing Launch.
	m.kernels[id] = nil
	return nil
}

func (m *Manager) releaseSlot(id string) {
	m.mu.Lock()
	delete(m.kernels, id)
	delete(m.order, id)
	m.mu.Unlock()
}

func (m *Manager) seed(ctx context.Context, k *kernelclient.Kernel, spec kernelspec.Spec) error {
	m.mu.Lock()
	cells := m.seedCells
	shouldSeed := m.shouldSeed
	m.mu.Unlock()
	if len(cells) == 0 {
		return nil
	}
	for _, cell := range cells {
		if cell.KernelName != "" && cell.KernelName != spec.Name {
			continue
		}
		if !shouldSeed(spec.Name, cell.Source) {
			continue
		}
		result, err := k.ExecuteCode(ctx, cell.Source)
		if err != nil {
			return errors.Wrapf(ErrSeedFailed, "executing seed cell: %v", err)
		}
		if result.Status != "ok" {
			return errors.Wrapf(ErrSeedFailed, "seed cell reply: %v", result.ReplyContent)
		}
	}
	return nil
}

// Get returns the kernel for id, or ErrNotFound.
func (m *Manager) Get(id string) (*kernelclient.Kernel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kernels[id]
	if !ok || k == nil {
		return nil, ErrNotFound
	}
	return k, nil
}

// List returns a snapshot of every tracked kernel's info, ordered by
// creation time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.kernels))
	for id, k := range m.kernels {
		if k != nil {
			ids = append(ids, id)
		}
	}
	sortByCreation(ids, m.order)
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		k := m.kernels[id]
		out = append(out, Info{
			ID:             k.ID,
			Name:           k.SpecName,
			LastActivity:   k.LastActivity(),
			ExecutionState: k.State().String(),
			Connections:    k.Connections(),
		})
	}
	return out
}

func sortByCreation(ids []string, order map[string]time.Time) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && order[ids[j]].Before(order[ids[j-1]]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// Shutdown tears a kernel down and removes it from the registry. Shutting
// down an unknown id is ErrNotFound.
func (m *Manager) Shutdown(ctx context.Context, id string) error {
	m.mu.Lock()
	k, ok := m.kernels[id]
	m.mu.Unlock()
	if !ok || k == nil {
		return ErrNotFound
	}
	err := k.Shutdown(ctx)
	m.onDead(id)
	return err
}

// ShutdownAll tears down every tracked kernel, used on gateway exit.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.kernels))
	for id, k := range m.kernels {
		if k != nil {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Shutdown(ctx, id); err != nil {
				klog.Warningf("manager: shutting down kernel %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}

// onDead evicts a kernel from the map; registered as the kernel's DeadHook
// so heartbeat-triggered death also cleans up the manager's bookkeeping.
func (m *Manager) onDead(id string) {
	m.mu.Lock()
	delete(m.kernels, id)
	delete(m.order, id)
	m.mu.Unlock()
}
