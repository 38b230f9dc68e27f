//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

// isReopenSignal reports whether sig asks for the log file to be reopened
// after external rotation.
func isReopenSignal(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}
