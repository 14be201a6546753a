// Package metrics exports the engine's Prometheus counters and gauges,
// the way grpc-ecosystem/go-grpc-prometheus instruments lnd's RPC
// server: one counter per protocol outcome, plus a gauge tracking how
// far behind the chain listener has fallen.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/statechan/scnode/wire"
)

var (
	// ProtocolRounds counts every completed protocol round, labeled by
	// protocol and outcome ("done" or "failed").
	ProtocolRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scnode",
			Subsystem: "engine",
			Name:      "protocol_rounds_total",
			Help:      "Completed protocol rounds by protocol type and outcome.",
		},
		[]string{"protocol", "outcome"},
	)

	// ProtocolFailures counts aborted rounds by the protocol.ErrorCode
	// that ended them, so a dashboard can distinguish "the peer rejected
	// this" from "the store failed" from "a signature didn't verify".
	ProtocolFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scnode",
			Subsystem: "engine",
			Name:      "protocol_failures_total",
			Help:      "Aborted protocol rounds by error code.",
		},
		[]string{"protocol", "code"},
	)

	// ChainListenerLagBlocks tracks how many blocks behind the chain
	// head the watcher's Listener currently is, the EVM-side analogue
	// of lnd's block-height-behind-tip gauges.
	ChainListenerLagBlocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scnode",
			Subsystem: "watcher",
			Name:      "chain_listener_lag_blocks",
			Help:      "Blocks between the chain head and the listener's last processed block.",
		},
	)

	// PendingWithdrawals tracks how many withdrawals are queued for the
	// next sweep round, mirroring lnd's pending-sweep gauges.
	PendingWithdrawals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scnode",
			Subsystem: "sweep",
			Name:      "pending_withdrawals",
			Help:      "Withdrawals waiting to be batched into a sweep round.",
		},
	)
)

// MustRegister registers every collector in this package against reg.
// Called once from cmd/scnoded's startup, mirroring the teacher's own
// single registration point for its gRPC interceptor metrics.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ProtocolRounds,
		ProtocolFailures,
		ChainListenerLagBlocks,
		PendingWithdrawals,
	)
}

// ObserveResult records a completed protocol round's outcome.
func ObserveResult(protocol wire.ProtocolType, err error) {
	if err == nil {
		ProtocolRounds.WithLabelValues(protocol.String(), "done").Inc()
		return
	}
	ProtocolRounds.WithLabelValues(protocol.String(), "failed").Inc()
}

// ObserveFailure records an aborted round's classified error code.
func ObserveFailure(protocol wire.ProtocolType, code string) {
	ProtocolFailures.WithLabelValues(protocol.String(), code).Inc()
}
