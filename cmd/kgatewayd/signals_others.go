//go:build !(linux || darwin)

package main

import (
	"os"
)

// captureSignals lists the signals that trigger a gateway shutdown.
// Platforms without POSIX signals only deliver os.Interrupt.
var captureSignals = []os.Signal{os.Interrupt}
