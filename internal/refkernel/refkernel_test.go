package refkernel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEvalEchoesPlainLines(t *testing.T) {
	k := &Kernel{vars: make(map[string]string)}
	stdout, ename, _ := k.eval("hello world")
	if ename != "" {
		t.Fatalf("unexpected error: %s", ename)
	}
	if stdout != "hello world\n" {
		t.Fatalf("expected echo, got %q", stdout)
	}
}

func TestEvalStoresAndPrintsVariables(t *testing.T) {
	k := &Kernel{vars: make(map[string]string)}
	if stdout, _, _ := k.eval("greeting = hola"); stdout != "" {
		t.Fatalf("assignment should be silent, got %q", stdout)
	}
	stdout, _, _ := k.eval("print greeting")
	if stdout != "hola\n" {
		t.Fatalf("expected stored value, got %q", stdout)
	}
}

func TestEvalErrorDirective(t *testing.T) {
	k := &Kernel{vars: make(map[string]string)}
	_, ename, evalue := k.eval("error: boom")
	if ename != "Error" || evalue != "boom" {
		t.Fatalf("expected Error/boom, got %s/%s", ename, evalue)
	}
}

func TestEvalSkipsCommentsAndBlankLines(t *testing.T) {
	k := &Kernel{vars: make(map[string]string)}
	stdout, _, _ := k.eval("# a comment\n\nvisible")
	if stdout != "visible\n" {
		t.Fatalf("expected only the visible line, got %q", stdout)
	}
}

func TestNewReadsConnectionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.json")
	info := ConnectionInfo{
		Transport: "tcp", IP: "127.0.0.1", Key: "secret",
		ShellPort: 1, IOPubPort: 2, StdinPort: 3, ControlPort: 4, HBPort: 5,
	}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	k, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.config.ShellPort != 1 || k.config.Key != "secret" {
		t.Fatalf("connection file not parsed: %+v", k.config)
	}
}

func TestNewRejectsMissingFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing connection file")
	}
}
