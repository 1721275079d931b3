//go:build linux || darwin

package main

import (
	"os"
	"syscall"
)

// captureSignals lists the signals that trigger a gateway shutdown.
// os.Interrupt additionally offers an interactive confirmation when stdin
// is a terminal.
var captureSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
