package bus

// KnownKinds lists every message variant's bus.Kind() string, in the
// fixed order spec.md §6 presents them. Order matters only in that it
// determines which TypeID a fresh Registry assigns to which kind.
var KnownKinds = []string{
	"timer-expire",
	"signal-fire",
	"tcp-accept",
	"tcp-listen",
	"udp-listen",
	"socket-connect",
	"socket-close",
	"tcp-data",
	"udp-data",
}

// Registry assigns stable TypeIDs to message kinds at startup, per
// spec.md §6: "type identifiers are not fixed constants but are
// allocated at startup by the subsystems; the Worker is told the ids
// and the script receives them in its callback registration table."
type Registry struct {
	byKind map[string]TypeID
	byID   map[TypeID]string
}

// NewRegistry assigns sequential TypeIDs (starting at 0) to every
// entry in KnownKinds, in order.
func NewRegistry() *Registry {
	r := &Registry{
		byKind: make(map[string]TypeID, len(KnownKinds)),
		byID:   make(map[TypeID]string, len(KnownKinds)),
	}
	for i, kind := range KnownKinds {
		id := TypeID(i)
		r.byKind[kind] = id
		r.byID[id] = kind
	}
	return r
}

// Tag stamps msg with its kind's assigned TypeID and returns the same
// message for chaining at the construction site, e.g.
// `registry.Tag(&bus.TimerExpire{Session: s})`.
func (r *Registry) Tag(msg Message) Message {
	id, ok := r.byKind[msg.Kind()]
	if !ok {
		panic("bus: unregistered message kind " + msg.Kind())
	}
	msg.setTypeID(id)
	return msg
}

// IDFor returns the TypeID assigned to kind, and whether it is known.
func (r *Registry) IDFor(kind string) (TypeID, bool) {
	id, ok := r.byKind[kind]
	return id, ok
}

// KindFor returns the kind string assigned to id, and whether it is
// known.
func (r *Registry) KindFor(id TypeID) (string, bool) {
	kind, ok := r.byID[id]
	return kind, ok
}
