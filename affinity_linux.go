//go:build linux

package blkreactor

import "golang.org/x/sys/unix"

// pinToCore binds the calling OS thread to one logical core. The caller
// holds runtime.LockOSThread for the lifetime of the reactor loop.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
