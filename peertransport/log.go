package peertransport

import "github.com/btcsuite/btclog"

// log is the peertransport package's subsystem logger.
var log = btclog.Disabled

// UseLogger sets the peertransport package's subsystem logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
