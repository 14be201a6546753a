package engine

import "github.com/btcsuite/btclog"

// log is the engine package's subsystem logger, following the same
// UseLogger convention every lnd subsystem exposes: silent until a
// caller wires a real backend in, so tests and library callers that
// never call UseLogger see no log output at all.
var log = btclog.Disabled

// UseLogger sets the engine package's subsystem logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
