package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestReadSeedURIFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.ipynb")
	if err := os.WriteFile(path, []byte(`{"cells": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	data, err := readSeedURI(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"cells": []}` {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestReadSeedURIFromHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cells": []}`))
	}))
	defer srv.Close()

	data, err := readSeedURI(srv.URL + "/seed.ipynb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"cells": []}` {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestReadSeedURIHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := readSeedURI(srv.URL + "/missing.ipynb"); err == nil {
		t.Fatal("expected error for non-200 seed fetch")
	}
}

func TestReadSeedURIMissingFile(t *testing.T) {
	if _, err := readSeedURI(filepath.Join(t.TempDir(), "absent.ipynb")); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestWatchSeedSkipsRemoteURIs(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	if err := watchSeed("https://example.com/seed.ipynb", done); err != nil {
		t.Fatalf("remote URIs must be skipped without error, got %v", err)
	}
}

func TestWatchSeedRejectsMissingPath(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	if err := watchSeed(filepath.Join(t.TempDir(), "absent.ipynb"), done); err == nil {
		t.Fatal("expected error watching a missing file")
	}
}
