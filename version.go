package reactorcore

// Version is the module's release identifier, reported by
// `reactorctl -v`.
const Version = "0.1.0"
