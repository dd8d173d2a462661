package procmgr

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/jarrett00/gokernel/internal/interfaces"
)

// pinToSingleCPU locks the calling goroutine to its own OS thread and pins
// that thread to CPU 0, the same two-step runner.ioLoop does for ublk's
// one-thread-per-queue requirement. Every process goroutine calls this
// before its first WaitTurn, so the whole baton-passing chain of "current"
// processes (spec §5's "the kernel models a single logical CPU") actually
// executes on one real core rather than wherever the Go scheduler happens
// to place each goroutine. Best effort: a sandboxed or single-core
// environment that rejects the affinity call still runs correctly, just
// without the pinning.
func pinToSingleCPU(logger interfaces.Logger) {
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Set(0)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		if logger != nil {
			logger.Debugf("procmgr: failed to pin to CPU 0: %v", err)
		}
	}
}
