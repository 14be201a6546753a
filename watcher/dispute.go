package watcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/channeldb"
	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
)

// Broadcaster sends a signed, ready-to-mine transaction and returns
// once it has been submitted to the mempool; it does not wait for
// confirmation. A production binary backs this with *ethclient.Client's
// SendTransaction after local signing; tests back it with a recorder.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx evmchain.MinimalTransaction) error
}

// Responder watches a Listener's ChallengeUpdated stream and
// automatically progresses any dispute whose on-chain version lags the
// locally stored, already-signed version for that app — the situation a
// vanished or uncooperative counterparty creates by forcing a dispute at
// a stale state. This mirrors breachArbiter's role: detect an adversarial
// on-chain event and react without operator involvement, the difference
// being this engine defends a live dispute rather than punishing a
// settled breach.
type Responder struct {
	store       channeldb.Store
	broadcaster Broadcaster
}

// NewResponder builds a Responder over a store of known channels and a
// transaction broadcaster.
func NewResponder(store channeldb.Store, broadcaster Broadcaster) *Responder {
	return &Responder{store: store, broadcaster: broadcaster}
}

// HandleChallengeUpdated compares a ChallengeUpdated event against
// localCommitment, the caller-supplied SetState commitment for the
// event's app. If the on-chain version is behind it, it rebroadcasts
// that commitment's transaction to bring the dispute up to date before
// the challenge period can finalize at the stale state. A nil
// localCommitment is a no-op.
func (r *Responder) HandleChallengeUpdated(ctx context.Context, ev *ChallengeUpdatedEvent,
	localCommitment *commitment.SetStateCommitment) error {

	if localCommitment == nil {
		return nil
	}
	if ev.VersionNumber >= localCommitment.VersionNumber {
		return nil
	}

	tx, err := localCommitment.GetSignedTransaction()
	if err != nil {
		return fmt.Errorf("watcher: build progress transaction: %w", err)
	}

	if err := r.broadcaster.Broadcast(ctx, tx); err != nil {
		return fmt.Errorf("watcher: broadcast progress transaction: %w", err)
	}
	return nil
}

// LatestLocalCommitment is a lookup hook the engine wires in: given an
// app identity hash, return the most recent double-signed SetState
// commitment this node holds for it, or nil if none is stored.
type LatestLocalCommitment func(identityHash common.Hash) (*commitment.SetStateCommitment, error)

// Watch runs HandleChallengeUpdated against every event the listener
// produces until ctx is cancelled, resolving each event's commitment
// via lookup. Errors are non-fatal: they're returned to the caller
// through the listener's own Errors channel conceptually, but since
// Watch consumes ChallengeUpdated directly it reports failures through
// onErr instead of silently dropping them.
func (r *Responder) Watch(ctx context.Context, l *Listener, lookup LatestLocalCommitment, onErr func(error)) {
	for {
		select {
		case ev := <-l.ChallengeUpdated:
			c, err := lookup(ev.IdentityHash)
			if err != nil {
				onErr(fmt.Errorf("watcher: lookup commitment for %s: %w", ev.IdentityHash, err))
				continue
			}
			if err := r.HandleChallengeUpdated(ctx, ev, c); err != nil {
				onErr(err)
			}
		case <-ctx.Done():
			return
		}
	}
}
