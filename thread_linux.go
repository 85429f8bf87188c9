//go:build linux

package explorer

import (
	"golang.org/x/sys/unix"
)

// watcherNice is the niceness applied to the watcher thread.
const watcherNice = 10

// setAffinity pins the calling OS thread to the given CPU.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// lowerPriority lowers the scheduling priority of the calling OS thread, on a
// best-effort basis. On Linux, PRIO_PROCESS with a thread id applies to just
// that thread.
func lowerPriority() {
	_ = unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), watcherNice)
}
