package channeldb

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/statechannel"
)

// Snapshot is a pre-protocol-run capture of a channel's state, taken
// before a Runner.Drive call begins. If the run fails partway through —
// after some but not all of a protocol's signatures have been exchanged
// — Revert restores the store to exactly this snapshot rather than
// leaving behind whatever partial batch a failed PERSIST step wrote.
//
// This mirrors the guarantee channeldb's own syncVersions gives its
// migrations: apply fully, or recover the previous state if anything
// along the way errors.
type Snapshot struct {
	channel statechannel.Channel
}

// Capture clones the current snapshot for multisig so it can later be
// restored verbatim, independent of whatever further mutations the
// caller's working copy undergoes.
func Capture(store Store, multisig common.Address) (Snapshot, error) {
	c, err := store.LoadChannel(multisig)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{channel: c.Clone()}, nil
}

// Revert writes the captured snapshot back to the store, undoing
// whatever partial progress a failed protocol run left behind.
func Revert(store Store, snap Snapshot) error {
	return store.PutChannel(snap.channel)
}
