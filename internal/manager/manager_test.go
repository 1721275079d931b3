package manager

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
	"github.com/kernelgateway/kgatewayd/internal/kernelspec"
)

func TestGetUnknownKernelIsNotFound(t *testing.T) {
	reg := kernelspec.NewRegistry(kernelspec.Spec{Name: "python3"})
	m := New(reg, 0, kernelclient.Options{})
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestShutdownUnknownKernelIsNotFound(t *testing.T) {
	reg := kernelspec.NewRegistry(kernelspec.Spec{Name: "python3"})
	m := New(reg, 0, kernelclient.Options{})
	if err := m.Shutdown(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReserveSlotEnforcesCapacity(t *testing.T) {
	reg := kernelspec.NewRegistry(kernelspec.Spec{Name: "python3"})
	m := New(reg, 1, kernelclient.Options{})

	if err := m.reserveSlot("first"); err != nil {
		t.Fatalf("unexpected error reserving first slot: %v", err)
	}
	if err := m.reserveSlot("second"); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	m.releaseSlot("first")
	if err := m.reserveSlot("second"); err != nil {
		t.Fatalf("expected slot to free up after release, got %v", err)
	}
}

func TestReserveSlotRejectsDuplicateID(t *testing.T) {
	reg := kernelspec.NewRegistry(kernelspec.Spec{Name: "python3"})
	m := New(reg, 0, kernelclient.Options{})
	if err := m.reserveSlot("dup"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.reserveSlot("dup"); err == nil {
		t.Fatalf("expected error reserving an id already in flight")
	}
}

func TestForceKernelNameOverridesRequest(t *testing.T) {
	reg := kernelspec.NewRegistry(kernelspec.Spec{Name: "python3"})
	m := New(reg, 0, kernelclient.Options{})
	m.ForceKernelName("other")

	// The forced name wins even over a valid request; "other" is unknown, so
	// the override is observable through the error.
	if _, err := m.Create(context.Background(), "python3", "", nil); !errors.Is(err, ErrUnknownSpec) {
		t.Fatalf("expected the forced (unknown) name to be used, got %v", err)
	}
}

func TestCreateUnknownKernelspecFails(t *testing.T) {
	reg := kernelspec.NewRegistry(kernelspec.Spec{Name: "python3"})
	m := New(reg, 0, kernelclient.Options{})
	if _, err := m.Create(context.Background(), "nope", "", nil); !errors.Is(err, ErrUnknownSpec) {
		t.Fatalf("expected ErrUnknownSpec, got %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("expected no kernels tracked after a failed create, got %d", m.Count())
	}
}
