package worker

import "github.com/copperhead-labs/reactorcore/bus"

// CallbackFunc receives one dispatched message's already-unpacked Go
// payload. This is the direct analogue of original_source/src/worker.c's
// callback() pushing sm->unpack(L, sm)'s arity arguments and calling the
// registered function: there is no VM stack here, so the payload
// arrives as the concrete bus.Message value instead.
type CallbackFunc func(msg bus.Message)

// ScriptHost is the embedded-interpreter boundary spec.md §9 leaves
// open ("a reimplementation may model scripts however its chosen host
// language allows"). The bootstrap calls RegisterCallback during
// startup wiring; Dispatch calls Lookup for each message, Traceback
// from its protected-call boundary on every panic a callback raises,
// and DispatchWakeup once per drained batch — the Go
// analogues of worker.c's STK_CALLBACK_TABLE, STK_TRACEBACK, and
// STK_DISPATCH_WAKEUP fixed stack slots.
type ScriptHost interface {
	// RegisterCallback binds fn to typeID, overwriting any previous
	// registration for that id (matching worker_reset's fresh table).
	RegisterCallback(typeID bus.TypeID, fn CallbackFunc)
	// Lookup returns the callback registered for typeID, if any.
	Lookup(typeID bus.TypeID) (CallbackFunc, bool)
	// Traceback is invoked from the protected-call boundary with
	// whatever recover() returned; implementations log it with a stack
	// trace the way ltraceback's luaL_traceback does.
	Traceback(recovered any)
	// DispatchWakeup runs once after each drained batch, the Go
	// analogue of calling the _dispatch_wakeup closure fetched during
	// worker_start.
	DispatchWakeup()
}

// ClosureHost is the reference ScriptHost: a plain Go map from TypeID
// to CallbackFunc, touched only from the Worker goroutine after
// startup (the same single-consumer discipline worker.c's
// STK_CALLBACK_TABLE relies on — Lua's table is never written
// concurrently either). Construct with NewClosureHost; set Wakeup and
// OnPanic to hook DispatchWakeup/Traceback, or leave them nil for a
// no-op default.
type ClosureHost struct {
	callbacks map[bus.TypeID]CallbackFunc

	// Wakeup, if set, is called by DispatchWakeup after each batch.
	Wakeup func()
	// OnPanic, if set, is called by Traceback with the recovered value
	// and a captured stack trace string.
	OnPanic func(recovered any, stack string)
}

// NewClosureHost constructs an empty ClosureHost.
func NewClosureHost() *ClosureHost {
	return &ClosureHost{callbacks: make(map[bus.TypeID]CallbackFunc)}
}

func (h *ClosureHost) RegisterCallback(typeID bus.TypeID, fn CallbackFunc) {
	h.callbacks[typeID] = fn
}

func (h *ClosureHost) Lookup(typeID bus.TypeID) (CallbackFunc, bool) {
	fn, ok := h.callbacks[typeID]
	return fn, ok
}

func (h *ClosureHost) Traceback(recovered any) {
	if h.OnPanic == nil {
		return
	}
	h.OnPanic(recovered, stackTrace())
}

func (h *ClosureHost) DispatchWakeup() {
	if h.Wakeup != nil {
		h.Wakeup()
	}
}
