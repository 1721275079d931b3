// Package kernelclient implements the gateway's view of a single running
// kernel: the connection file, the client-side ZeroMQ sockets (DEALER/SUB/
// REQ connecting to the kernel's bound ROUTER/PUB/REP sockets), message
// signing, heartbeat liveness, and shutdown.
package kernelclient

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ConnectionFile is the JSON document written to disk and passed to the
// kernel subprocess, in the standard Jupyter connection-file layout.
type ConnectionFile struct {
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// FreePort asks the OS for an ephemeral free TCP port on the given IP by
// binding briefly and releasing it. Used to fill out a ConnectionFile with 5
// distinct ports.
func FreePort(ip string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return 0, errors.Wrap(err, "allocating ephemeral port")
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// NewConnectionFile allocates 5 fresh loopback ports and a random signing
// key, producing a connection descriptor ready to be written to disk.
func NewConnectionFile(ip string) (*ConnectionFile, error) {
	if ip == "" {
		ip = "127.0.0.1"
	}
	ports := make([]int, 5)
	for i := range ports {
		p, err := FreePort(ip)
		if err != nil {
			return nil, err
		}
		ports[i] = p
	}
	key, err := randomKey(32)
	if err != nil {
		return nil, err
	}
	return &ConnectionFile{
		Transport:       "tcp",
		IP:              ip,
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HBPort:          ports[4],
		SignatureScheme: "hmac-sha256",
		Key:             key,
	}, nil
}

// randomKey returns n bytes of cryptographic randomness hex-encoded.
func randomKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating signing key")
	}
	return fmt.Sprintf("%x", buf), nil
}

// Write persists the connection file at path with owner-only permissions.
func (c *ConnectionFile) Write(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal connection file")
	}
	// 0600: the file carries the signing key.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing connection file %q", path)
	}
	return nil
}

func (c *ConnectionFile) addr(port int) string {
	return fmt.Sprintf("%s://%s:%s", c.Transport, c.IP, strconv.Itoa(port))
}
