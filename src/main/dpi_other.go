//go:build !windows

package main

// enableDPIAwareness is a no-op: other platforms report scale through the
// window toolkit.
func enableDPIAwareness() {}
