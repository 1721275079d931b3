package pool

import (
	"context"
	"testing"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
)

func TestAcquireBlocksUntilRelease(t *testing.T) {
	n := 0
	creator := func(ctx context.Context, kernelName, explicitID string, env map[string]string) (*kernelclient.Kernel, error) {
		n++
		return &kernelclient.Kernel{ID: kernelName + "-fake"}, nil
	}
	p := New(creator, "python3", 1)

	k, err := p.creator(context.Background(), "python3", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.free = append(p.free, k)
	p.byID[k.ID] = k
	p.sem <- struct{}{}

	acquired, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired.ID != k.ID {
		t.Fatalf("expected to acquire the only kernel in the pool")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatalf("expected Acquire to block/fail while pool is empty")
	}

	p.Release(acquired)
	acquired2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	if acquired2.ID != k.ID {
		t.Fatalf("expected the released kernel to be handed back out")
	}
}

func TestOnReplyDispatchesToRegisteredCallback(t *testing.T) {
	p := New(nil, "python3", 1)
	var got string
	p.OnReply("kernel-1", func(channel string, content map[string]interface{}) {
		got = channel
	})
	p.Dispatch("kernel-1", "iopub", map[string]interface{}{"x": 1})
	if got != "iopub" {
		t.Fatalf("expected callback to fire with channel iopub, got %q", got)
	}
	// Dispatching to a kernel with no registered callback must not panic.
	p.Dispatch("kernel-2", "iopub", nil)
}

func TestSizeReflectsConfiguredCapacity(t *testing.T) {
	p := New(nil, "python3", 4)
	if p.Size() != 4 {
		t.Fatalf("expected size 4, got %d", p.Size())
	}
}
