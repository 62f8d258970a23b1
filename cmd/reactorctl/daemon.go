package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// daemonizedEnv marks a re-exec'd child so it knows not to fork again.
const daemonizedEnv = "REACTORCTL_DAEMONIZED"

// pidFile wraps an open, flock'd pidfile, matching silly_daemon.c's
// pidfile_create/pidfile_write/pidfile_delete: the flock is what
// detects "another instance of this process already running" (a stale
// pid left behind by a crash is otherwise indistinguishable from a pid
// still alive), and it is held for the lifetime of the process rather
// than released after the write.
type pidFile struct {
	path string
	f    *os.File
}

// createPIDFile opens path, creating it if necessary, and takes a
// non-blocking exclusive flock — matching pidfile_create's
// open()+flock(LOCK_NB|LOCK_EX). A locked-already error means another
// instance is live and is treated as fatal, exactly like the original.
func createPIDFile(path string) (*pidFile, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pidfile: create %q: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		defer f.Close()
		var existing string
		buf := make([]byte, 64)
		if n, _ := f.ReadAt(buf, 0); n > 0 {
			existing = string(buf[:n])
		}
		return nil, fmt.Errorf("pidfile: %q already locked by pid %s: %w", path, existing, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: truncate %q: %w", path, err)
	}
	return &pidFile{path: path, f: f}, nil
}

// write records the current process's pid, matching pidfile_write.
func (p *pidFile) write() error {
	if p == nil {
		return nil
	}
	_, err := p.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}

// remove closes and unlinks the pidfile, matching pidfile_delete.
func (p *pidFile) remove() {
	if p == nil {
		return
	}
	p.f.Close()
	os.Remove(p.path)
}

// daemonize implements -d/--daemon as a pre-exec re-invocation rather
// than a classic double-fork: silly_daemon.c calls the libc daemon(3)
// (fork, setsid, chdir("/"), redirect std streams to /dev/null) before
// any of its own threads or event loop have started. This process has
// already parsed flags and is about to start goroutines, and POSIX
// fork() in a multi-threaded process only guarantees the calling
// thread survives in the child — so forking here would leave the
// runtime's other goroutines permanently gone from the child without
// ever having run. Re-executing the same binary, from scratch, with a
// marker env var and a new session is the safe equivalent: the child is
// a fresh, single-threaded process, and only it proceeds to build a
// runtime.Context. Returns true when the caller is the original
// foreground process and should exit immediately (err == nil) or after
// reporting a failed launch (err != nil); the caller should proceed
// normally when exited is false.
func daemonize() (exited bool, err error) {
	if os.Getenv(daemonizedEnv) != "" {
		return false, nil
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return true, fmt.Errorf("daemonize: open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	exe, err := os.Executable()
	if err != nil {
		return true, fmt.Errorf("daemonize: resolve executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return true, fmt.Errorf("daemonize: relaunch: %w", err)
	}
	return true, nil
}
