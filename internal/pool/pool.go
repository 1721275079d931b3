// Package pool implements the managed kernel pool: a fixed set of
// prespawned, identical kernels treated as interchangeable delegates for
// notebook-HTTP requests, borrowed and returned via a semaphore. A FIFO
// free-list hands out kernels, so contending requests cycle through the
// pool instead of piling onto one kernel.
package pool

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
)

// Creator provisions a new kernel on demand; satisfied by
// (*manager.Manager).Create.
type Creator func(ctx context.Context, kernelName string, explicitID string, envOverrides map[string]string) (*kernelclient.Kernel, error)

// Pool is a fixed-size set of delegate kernels, all of the same kernelspec.
type Pool struct {
	creator    Creator
	kernelName string
	sem        chan struct{}

	mu      sync.Mutex
	free    []*kernelclient.Kernel
	byID    map[string]*kernelclient.Kernel
	onReply map[string]func(channel string, content map[string]interface{})
}

// New builds a pool of size kernels, all created via creator using the
// given kernelspec name. size must be at least 1.
func New(creator Creator, kernelName string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		creator:    creator,
		kernelName: kernelName,
		sem:        make(chan struct{}, size),
		byID:       make(map[string]*kernelclient.Kernel),
		onReply:    make(map[string]func(channel string, content map[string]interface{})),
	}
}

// Prespawn launches the pool's full complement of kernels up front.
func (p *Pool) Prespawn(ctx context.Context) error {
	size := cap(p.sem)
	for i := 0; i < size; i++ {
		k, err := p.creator(ctx, p.kernelName, "", nil)
		if err != nil {
			return errors.Wrapf(err, "prespawning pool kernel %d/%d", i+1, size)
		}
		p.mu.Lock()
		p.byID[k.ID] = k
		p.free = append(p.free, k)
		p.mu.Unlock()
		p.sem <- struct{}{}
	}
	return nil
}

// Acquire blocks until a delegate kernel is available, removing it from the
// free list. Callers must call Release exactly once when done.
func (p *Pool) Acquire(ctx context.Context) (*kernelclient.Kernel, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		// Semaphore count and free-list length are kept in lockstep by
		// construction; this would indicate a bookkeeping bug, not a
		// legitimate empty-pool race.
		return nil, errors.New("pool: semaphore granted but free list empty")
	}
	k := p.free[0]
	p.free = p.free[1:]
	return k, nil
}

// Release returns a kernel to the free list, making it available to the
// next Acquire.
func (p *Pool) Release(k *kernelclient.Kernel) {
	p.mu.Lock()
	p.free = append(p.free, k)
	p.mu.Unlock()
	p.sem <- struct{}{}
}

// OnReply registers the iopub callback for a kernel, replacing any prior
// registration. There is one callback per kernel, not per borrower.
func (p *Pool) OnReply(kernelID string, fn func(channel string, content map[string]interface{})) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReply[kernelID] = fn
}

// Dispatch invokes the registered iopub callback for kernelID, if any.
func (p *Pool) Dispatch(kernelID, channel string, content map[string]interface{}) {
	p.mu.Lock()
	fn := p.onReply[kernelID]
	p.mu.Unlock()
	if fn != nil {
		fn(channel, content)
	}
}

// Size returns the pool's configured capacity.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Kernels returns every kernel tracked by the pool, prespawned or not.
func (p *Pool) Kernels() []*kernelclient.Kernel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*kernelclient.Kernel, 0, len(p.byID))
	for _, k := range p.byID {
		out = append(out, k)
	}
	return out
}

// Shutdown tears down every kernel in the pool.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	kernels := make([]*kernelclient.Kernel, 0, len(p.byID))
	for _, k := range p.byID {
		kernels = append(kernels, k)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range kernels {
		wg.Add(1)
		go func(k *kernelclient.Kernel) {
			defer wg.Done()
			_ = k.Shutdown(ctx)
		}(k)
	}
	wg.Wait()
}
