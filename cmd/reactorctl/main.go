// Command reactorctl is the process entry point: it parses the CLI
// flags, assembles a runtime.Context, and drives it until a shutdown
// signal or a script-requested exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/copperhead-labs/reactorcore"
	"github.com/copperhead-labs/reactorcore/runtime"
	"github.com/copperhead-labs/reactorcore/worker"
)

type cliFlags struct {
	help    bool
	version bool
	daemon  bool

	logLevel string
	logPath  string
	pidFile  string

	libPath  string
	libCPath string

	reactorCPU int
	workerCPU  int
	timerCPU   int
}

func parseFlags(args []string) (*cliFlags, []string, func(), error) {
	fs := flag.NewFlagSet("reactorctl", flag.ContinueOnError)
	f := &cliFlags{}

	for _, name := range []string{"h", "help"} {
		fs.BoolVar(&f.help, name, false, "print help and exit")
	}
	for _, name := range []string{"v", "version"} {
		fs.BoolVar(&f.version, name, false, "print version and exit")
	}
	for _, name := range []string{"d", "daemon"} {
		fs.BoolVar(&f.daemon, name, false, "fork to background; writes pidfile if configured")
	}
	for _, name := range []string{"l", "log-level"} {
		fs.StringVar(&f.logLevel, name, "info", "one of debug, info, warn, error")
	}
	fs.StringVar(&f.logPath, "log-path", "", "redirect log to file (daemon mode)")
	fs.StringVar(&f.pidFile, "pid-file", "", "path to pidfile")
	for _, name := range []string{"L", "lualib-path"} {
		fs.StringVar(&f.libPath, name, "", "prepended to script library search path")
	}
	for _, name := range []string{"C", "lualib-cpath"} {
		fs.StringVar(&f.libCPath, name, "", "prepended to native-module search path")
	}
	fs.IntVar(&f.reactorCPU, "S", -1, "CPU pin for the reactor goroutine")
	fs.IntVar(&f.workerCPU, "W", -1, "CPU pin for the worker goroutine")
	fs.IntVar(&f.timerCPU, "T", -1, "CPU pin for the timer goroutine")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: reactorctl [script] [--key=value ...] [options]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	return f, fs.Args(), fs.Usage, nil
}

func main() {
	f, rest, usage, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if f.help {
		usage()
		os.Exit(0)
	}
	if f.version {
		fmt.Println(reactorcore.Version)
		os.Exit(0)
	}

	var scriptPath string
	if len(rest) > 0 {
		scriptPath = rest[0]
	}

	if f.daemon {
		exited, err := daemonize()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if exited {
			os.Exit(0)
		}
	}

	pf, err := createPIDFile(f.pidFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer pf.remove()
	if err := pf.write(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := run(f, scriptPath)
	os.Exit(code)
}

// run assembles and drives the runtime, returning the process exit
// code: 0 on clean shutdown (including a script's requested exit(n),
// whose status is returned verbatim), non-zero on init failure.
func run(f *cliFlags, scriptPath string) int {
	cfg := runtime.DefaultConfig()
	cfg.LogLevel = f.logLevel
	cfg.LogPath = f.logPath
	cfg.Daemon = f.daemon
	cfg.PIDFile = f.pidFile
	cfg.LibPath = f.libPath
	cfg.LibCPath = f.libCPath
	cfg.ReactorCPU = f.reactorCPU
	cfg.WorkerCPU = f.workerCPU
	cfg.TimerCPU = f.timerCPU
	cfg.Bootstrap = defaultBootstrap(scriptPath)

	rt, err := runtime.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reactorctl: init failed:", err)
		return 1
	}

	stopUSR1 := installStackDumpHandler(rt)
	defer stopUSR1()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rt.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "reactorctl:", err)
		if rt.ExitCode() == 0 {
			return 1
		}
	}
	return rt.ExitCode()
}

// defaultBootstrap is what runs when no script is embedded: the core's
// own scripting interpreter is out of scope for this port (ScriptHost
// is the boundary a host embeds through), so reactorctl's positional
// [script] argument is accepted for CLI-surface fidelity but, absent a
// real interpreter to hand it to, only logged — callers that need
// actual callback registration are expected to embed this module as a
// library and supply their own worker.Bootstrap via runtime.Config,
// the same way ClosureHost is built to be driven from Go rather than
// from a loaded script file.
func defaultBootstrap(scriptPath string) worker.Bootstrap {
	return func(wc *worker.Context) error {
		if scriptPath != "" {
			wc.Logger().Warn("reactorctl: script loading is not implemented; ignoring positional argument", "path", scriptPath)
		}
		return nil
	}
}

// installStackDumpHandler wires SIGUSR1 to a full goroutine stack dump,
// grounded on ehrlich-b-go-ublk/cmd/ublk-mem/main.go's own SIGUSR1
// handler — useful for diagnosing a wedged callback in a
// single-dispatch-goroutine runtime without killing the process.
func installStackDumpHandler(rt *runtime.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				dumpStacks(rt)
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

func dumpStacks(rt *runtime.Context) {
	buf := make([]byte, 1<<20)
	for {
		n := goruntime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}
	rt.Logger().Warn("reactorctl: stack dump requested", "stacks", string(buf))
}
