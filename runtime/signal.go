package runtime

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/copperhead-labs/reactorcore/bus"
)

// IgnoreSIGPIPE matches signal_init's `signal(SIGPIPE, SIG_IGN)`: every
// socket write in this runtime goes through a non-blocking syscall whose
// error is returned and handled inline, never through a delivered
// signal, so the default terminate-on-SIGPIPE disposition only gets in
// the way of a long-running process writing to a peer that has already
// closed its end.
func IgnoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}

// WatchSignal matches signal_watch/signal_handler: it arranges for sig
// to be delivered to the script as a bus.SignalFire message rather than
// acted on by the Go runtime's default disposition. The returned stop
// function ends the watch; it is not tied to Run's context, so a caller
// that wants the watch to end with the runtime should invoke stop
// itself once Run returns.
func (c *Context) WatchSignal(sig os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				if num, ok := s.(syscall.Signal); ok {
					c.worker.Push(c.registry.Tag(&bus.SignalFire{Signum: int(num)}))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
