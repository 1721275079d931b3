//go:build linux || darwin

package kernelclient

import (
	"os"
	"syscall"
)

// termSignal is sent to a kernel subprocess to ask it to exit; Process.Kill
// follows when it still will not die.
var termSignal os.Signal = syscall.SIGTERM
