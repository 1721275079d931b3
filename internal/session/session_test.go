package session

import "testing"

func TestCreateReplacesExistingSessionForSamePath(t *testing.T) {
	r := New()
	first, err := r.Create("notebook.ipynb", "notebook", "notebook", "kernel-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Create("notebook.ipynb", "notebook", "notebook", "kernel-2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get(first.ID); err != ErrNotFound {
		t.Fatalf("expected first session to be replaced, got %v", err)
	}
	got, err := r.Get(second.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.KernelID != "kernel-2" {
		t.Fatalf("expected kernel-2, got %q", got.KernelID)
	}
}

func TestCreateHonorsClientChosenID(t *testing.T) {
	r := New()
	s, err := r.Create("notebook.ipynb", "notebook", "notebook", "kernel-1", "my-chosen-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "my-chosen-id" {
		t.Fatalf("expected the client-chosen id, got %q", s.ID)
	}
	if got, err := r.Get("my-chosen-id"); err != nil || got.KernelID != "kernel-1" {
		t.Fatalf("session not retrievable under its chosen id: %v %+v", err, got)
	}
}

func TestCreateRejectsDuplicateExplicitID(t *testing.T) {
	r := New()
	if _, err := r.Create("a.ipynb", "a", "notebook", "kernel-1", "dup"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Create("b.ipynb", "b", "notebook", "kernel-2", "dup"); err == nil {
		t.Fatal("expected error reusing an explicit session id")
	}
}

func TestCreateGeneratesIDWhenUnspecified(t *testing.T) {
	r := New()
	s, err := r.Create("notebook.ipynb", "notebook", "notebook", "kernel-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected a generated session id")
	}
}

func TestDeleteDoesNotAffectOtherSessions(t *testing.T) {
	r := New()
	a, _ := r.Create("a.ipynb", "a", "notebook", "kernel-a", "")
	b, _ := r.Create("b.ipynb", "b", "notebook", "kernel-b", "")

	if err := r.Delete(a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get(a.ID); err != ErrNotFound {
		t.Fatalf("expected a to be gone")
	}
	if _, err := r.Get(b.ID); err != nil {
		t.Fatalf("expected b to remain, got %v", err)
	}
}

func TestDeleteByKernelRemovesAllBoundSessions(t *testing.T) {
	r := New()
	r.Create("a.ipynb", "a", "notebook", "kernel-x", "")
	r.Create("b.ipynb", "b", "notebook", "kernel-x", "")
	r.Create("c.ipynb", "c", "notebook", "kernel-y", "")

	r.DeleteByKernel("kernel-x")

	remaining := r.List()
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining session, got %d", len(remaining))
	}
	if remaining[0].KernelID != "kernel-y" {
		t.Fatalf("expected kernel-y to survive, got %q", remaining[0].KernelID)
	}
}

func TestDeleteUnknownSessionIsNotFound(t *testing.T) {
	r := New()
	if err := r.Delete("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
