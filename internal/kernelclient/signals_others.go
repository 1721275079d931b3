//go:build !(linux || darwin)

package kernelclient

import (
	"os"
)

// termSignal is sent to a kernel subprocess to ask it to exit. Platforms
// without POSIX signals only support os.Kill.
var termSignal os.Signal = os.Kill
