package main

import "testing"

func TestParseFlagsShortAndLongFormsShareState(t *testing.T) {
	f, rest, _, err := parseFlags([]string{"-l", "debug", "--pid-file", "/tmp/x.pid", "myscript.lua"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.logLevel != "debug" {
		t.Fatalf("logLevel = %q, want debug", f.logLevel)
	}
	if f.pidFile != "/tmp/x.pid" {
		t.Fatalf("pidFile = %q, want /tmp/x.pid", f.pidFile)
	}
	if len(rest) != 1 || rest[0] != "myscript.lua" {
		t.Fatalf("rest = %v, want [myscript.lua]", rest)
	}
}

func TestParseFlagsCPUPins(t *testing.T) {
	f, _, _, err := parseFlags([]string{"-S", "0", "-W", "1", "-T", "2"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.reactorCPU != 0 || f.workerCPU != 1 || f.timerCPU != 2 {
		t.Fatalf("cpu pins = %d/%d/%d, want 0/1/2", f.reactorCPU, f.workerCPU, f.timerCPU)
	}
}

func TestParseFlagsDefaultsLeaveCPUPinsUnset(t *testing.T) {
	f, _, _, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.reactorCPU != -1 || f.workerCPU != -1 || f.timerCPU != -1 {
		t.Fatalf("expected all CPU pins to default to -1, got %d/%d/%d", f.reactorCPU, f.workerCPU, f.timerCPU)
	}
}

func TestParseFlagsHelpAndVersionAliases(t *testing.T) {
	f, _, _, err := parseFlags([]string{"-v"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if !f.version {
		t.Fatal("expected -v to set version")
	}

	f, _, _, err = parseFlags([]string{"--help"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if !f.help {
		t.Fatal("expected --help to set help")
	}
}
