package watcher

import "github.com/btcsuite/btclog"

// log is the watcher package's subsystem logger.
var log = btclog.Disabled

// UseLogger sets the watcher package's subsystem logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
