package kernelclient

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/kernelgateway/kgatewayd/internal/kernelspec"
)

// GatewayTokenEnv is the gateway's own auth token environment variable; it
// must never be propagated to a kernel child process.
const GatewayTokenEnv = "KG_AUTH_TOKEN"

// GatewayMarkerEnv is always set to "1" in a kernel's environment so code
// running inside it can detect it's under the gateway.
const GatewayMarkerEnv = "KERNEL_GATEWAY"

// Process is a handle to a launched kernel subprocess.
type Process interface {
	Wait() error
	Signal(os.Signal) error
	Kill() error
	Pid() int
}

// Launcher is the contract for spawning a kernel subprocess; the mechanism
// itself (executable discovery, container runtime, etc.) is deliberately
// pluggable.
type Launcher interface {
	Launch(ctx context.Context, spec kernelspec.Spec, connFilePath string, env []string) (Process, error)
}

// OSLauncher launches kernels as plain child processes via os/exec,
// substituting "{connection_file}" in the spec's Argv template. This is the
// default Launcher used outside of tests.
type OSLauncher struct{}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Wait() error              { return p.cmd.Wait() }
func (p *osProcess) Signal(s os.Signal) error { return p.cmd.Process.Signal(s) }
func (p *osProcess) Kill() error              { return p.cmd.Process.Kill() }
func (p *osProcess) Pid() int                 { return p.cmd.Process.Pid }

// Launch substitutes the connection file path into the spec's argv template
// and starts the process with the given environment.
func (OSLauncher) Launch(ctx context.Context, spec kernelspec.Spec, connFilePath string, env []string) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.Errorf("kernelspec %q has no argv", spec.Name)
	}
	argv := make([]string, len(spec.Argv))
	for i, a := range spec.Argv {
		argv[i] = strings.ReplaceAll(a, "{connection_file}", connFilePath)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "launching kernel %q", spec.Name)
	}
	return &osProcess{cmd: cmd}, nil
}

// BuildEnv merges the process environment whitelist, kernel-specific
// defaults, the gateway marker, and caller-provided KERNEL_* overrides,
// filtering everything else out. It never includes GatewayTokenEnv.
//
// Only KERNEL_*-prefixed overrides and explicitly whitelisted names survive.
func BuildEnv(specEnv map[string]string, processWhitelist []string, overrides map[string]string, whitelist []string) []string {
	merged := map[string]string{}
	for k, v := range specEnv {
		merged[k] = v
	}
	for _, name := range processWhitelist {
		if v, ok := os.LookupEnv(name); ok {
			merged[name] = v
		}
	}
	merged[GatewayMarkerEnv] = "1"

	allowed := make(map[string]bool, len(whitelist))
	for _, w := range whitelist {
		allowed[w] = true
	}
	for k, v := range overrides {
		if k == GatewayTokenEnv {
			continue
		}
		if strings.HasPrefix(k, "KERNEL_") || allowed[k] {
			merged[k] = v
		}
	}
	delete(merged, GatewayTokenEnv)

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
