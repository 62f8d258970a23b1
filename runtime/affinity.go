package runtime

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/copperhead-labs/reactorcore/logging"
)

// pinCurrentThread, if cpu >= 0, locks the calling goroutine to its
// current OS thread and restricts that thread to the given CPU — the
// -S/-W/-T flags; for cpu < 0 it does nothing. Grounded on ehrlich-b-go-ublk's Runner.ioLoop, which pins each
// queue goroutine the same way because ublk_drv requires one fixed
// thread per queue; the Reactor/Worker/Timer loops here have no such
// hard kernel requirement, so a failed SchedSetaffinity is logged and
// otherwise ignored rather than treated as fatal.
func pinCurrentThread(name string, cpu int, logger *logging.Logger) {
	if cpu < 0 {
		return
	}
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		logger.Warn("runtime: failed to set CPU affinity", "goroutine", name, "cpu", cpu, "err", err)
		return
	}
	logger.Debug("runtime: pinned goroutine to CPU", "goroutine", name, "cpu", cpu)
}
