package worker

import "fmt"

// LibraryPaths records the four script/native-module search path
// components worker_start prepends, in order, to the interpreter's
// module path: the configured lib path, the configured C-lib path,
// the cwd-relative default, and the executable-relative default.
// ScriptHost implementations that embed a real module loader (unlike
// ClosureHost, which has none) read these to resolve require()-style
// imports; a Go-native host has no interpreter module path to extend,
// so this struct exists purely to preserve the --lualib-path/
// --lualib-cpath CLI surface (spec.md §6) end to end.
type LibraryPaths struct {
	LibPath     string
	LibCPath    string
	CWDPath     string
	CWDCPath    string
	ExeDirPath  string
	ExeDirCPath string
}

// NewLibraryPaths builds the four-entry search path in worker_start's
// prepend order from the configured paths and the executable's
// directory.
func NewLibraryPaths(libPath, libCPath, exeDir, platformExt string) LibraryPaths {
	return LibraryPaths{
		LibPath:     libPath,
		LibCPath:    libCPath,
		CWDPath:     "./lualib/?.lua",
		CWDCPath:    "./luaclib/?" + platformExt,
		ExeDirPath:  exeDir + "lualib/?.lua",
		ExeDirCPath: exeDir + "luaclib/?" + platformExt,
	}
}

// Bootstrap is the user entry point invoked once at startup, the Go
// analogue of the loaded bootstrap chunk worker_start calls with
// lua_pcall(L, 1, 0, 1). It receives the Context so it can register
// callbacks via the ScriptHost and allocate ids before the dispatch
// loop starts consuming messages.
type Bootstrap func(c *Context) error

// Start runs bootstrap once under the same panic boundary Dispatch
// uses for ordinary callbacks, except a bootstrap failure is fatal
// (returned to the caller) rather than merely logged: worker_start's
// C equivalent calls exit(-1) on a bootstrap error rather than
// continuing into the dispatch loop with no callbacks registered.
// After bootstrap returns successfully, DispatchWakeup is invoked once
// (worker_start's trailing "lua_pushvalue(L, STK_DISPATCH_WAKEUP);
// lua_call" before entering the event loop).
func (c *Context) Start(boot Bootstrap) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.host.Traceback(r)
			err = fmt.Errorf("worker: bootstrap panicked: %v", r)
		}
	}()
	if err := boot(c); err != nil {
		return fmt.Errorf("worker: bootstrap failed: %w", err)
	}
	c.host.DispatchWakeup()
	return nil
}
