package kernelclient

import (
	"os"
	"strings"
	"testing"
)

func envMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		out[parts[0]] = parts[1]
	}
	return out
}

func TestBuildEnvFiltersOverrides(t *testing.T) {
	got := envMap(BuildEnv(nil, nil, map[string]string{
		"KERNEL_FOO":    "x",
		"KG_AUTH_TOKEN": "leaked",
		"NOT_KERNEL":    "y",
	}, []string{"TEST_VAR"}))

	if got["KERNEL_FOO"] != "x" {
		t.Fatalf("KERNEL_* override must pass through, got %v", got)
	}
	if _, ok := got["KG_AUTH_TOKEN"]; ok {
		t.Fatal("gateway auth token must never reach a kernel")
	}
	if _, ok := got["NOT_KERNEL"]; ok {
		t.Fatal("non-whitelisted, non-KERNEL_* override must be dropped")
	}
}

func TestBuildEnvHonorsWhitelist(t *testing.T) {
	got := envMap(BuildEnv(nil, nil, map[string]string{"TEST_VAR": "allowed"}, []string{"TEST_VAR"}))
	if got["TEST_VAR"] != "allowed" {
		t.Fatalf("whitelisted override must pass through, got %v", got)
	}
}

func TestBuildEnvAlwaysSetsGatewayMarker(t *testing.T) {
	got := envMap(BuildEnv(nil, nil, nil, nil))
	if got[GatewayMarkerEnv] != "1" {
		t.Fatalf("KERNEL_GATEWAY=1 must always be set, got %v", got)
	}
}

func TestBuildEnvProcessWhitelistCopiesFromProcess(t *testing.T) {
	t.Setenv("KG_TEST_INHERITED", "from-process")
	got := envMap(BuildEnv(nil, []string{"KG_TEST_INHERITED"}, nil, nil))
	if got["KG_TEST_INHERITED"] != "from-process" {
		t.Fatalf("process whitelist must copy values from the gateway's environment, got %v", got)
	}
}

func TestBuildEnvStripsTokenEvenFromSpecEnv(t *testing.T) {
	got := envMap(BuildEnv(map[string]string{GatewayTokenEnv: "oops"}, nil, nil, nil))
	if _, ok := got[GatewayTokenEnv]; ok {
		t.Fatal("auth token must be stripped even when a spec declares it")
	}
}

func TestConnectionFileKeyLengthAndPerms(t *testing.T) {
	conn, err := NewConnectionFile("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conn.Key) < 64 {
		t.Fatalf("signing key must be at least 32 random bytes hex-encoded, got %d chars", len(conn.Key))
	}
	if conn.SignatureScheme != "hmac-sha256" {
		t.Fatalf("unexpected signature scheme %q", conn.SignatureScheme)
	}

	ports := map[int]bool{
		conn.ShellPort: true, conn.IOPubPort: true, conn.StdinPort: true,
		conn.ControlPort: true, conn.HBPort: true,
	}
	if len(ports) != 5 {
		t.Fatalf("the five channel ports must be distinct: %+v", conn)
	}

	path := t.TempDir() + "/kernel.json"
	if err := conn.Write(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("connection file must be owner-only, got %v", info.Mode().Perm())
	}
}
