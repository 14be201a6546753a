// Package healthmon watches the EVM provider's liveness the way lnd
// watches its chain backend, wallet, and disk space: a small set of
// periodic checks that shut the node down cleanly if one of them keeps
// failing, rather than letting the rest of the engine limp along against
// a provider that silently stopped serving requests.
package healthmon

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/healthcheck"

	"github.com/statechan/scnode/evmchain"
)

// Config controls how aggressively the provider liveness check retries
// before declaring the provider unhealthy.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Backoff  time.Duration
	Attempts int
}

// DefaultConfig mirrors the teacher's chain-backend health check
// defaults: check once a minute, allow a couple of retries before
// giving up.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
		Backoff:  5 * time.Second,
		Attempts: 2,
	}
}

// New builds the provider-liveness Observation: BlockNumber is the
// cheapest call every EVM JSON-RPC provider supports, so it stands in
// for "is this endpoint still answering requests at all".
func New(provider evmchain.LogFilterer, cfg Config, shutdown func()) *healthcheck.Monitor {
	check := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if _, err := provider.BlockNumber(ctx); err != nil {
			return fmt.Errorf("healthmon: provider unreachable: %w", err)
		}
		return nil
	}

	obs := healthcheck.NewObservation(
		"evm-provider",
		check,
		cfg.Interval,
		cfg.Timeout,
		cfg.Backoff,
		cfg.Attempts,
	)

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks:   []*healthcheck.Observation{obs},
		Shutdown: shutdown,
	})
}
