// Package channeldb defines the persistence boundary for channel state:
// the Store interface every protocol run reads from and writes to, the
// sentinel errors callers switch on, and a snapshot/revert helper for
// recovering from a protocol run that fails partway through. Concrete
// backends live in the boltstore and sqlstore subpackages.
package channeldb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/protocol"
	"github.com/statechan/scnode/statechannel"
)

var (
	ErrChannelNotFound  = fmt.Errorf("channeldb: channel not found")
	ErrChannelExists    = fmt.Errorf("channeldb: channel already exists")
	ErrNoActiveChannels = fmt.Errorf("channeldb: no active channels")
	ErrMetaNotFound     = fmt.Errorf("channeldb: schema meta not found")
	ErrUnknownBatchKind = fmt.Errorf("channeldb: unrecognized batch type")
)

// Store is the full persistence surface the engine depends on. It embeds
// protocol.Persister so a Store can be handed directly to
// protocol.Dependencies.Store without an adapter.
type Store interface {
	protocol.Persister

	// LoadChannel fetches the current snapshot for a multisig address.
	LoadChannel(multisig common.Address) (statechannel.Channel, error)

	// CreateChannel inserts a brand-new channel, failing with
	// ErrChannelExists if one is already stored under this multisig
	// address. Used when a Setup initiator or responder first learns
	// about a channel, as opposed to PutChannel's overwrite semantics.
	CreateChannel(c statechannel.Channel) error

	// PutChannel inserts or overwrites a channel snapshot outright,
	// bypassing the batch/kind bookkeeping Persist does. Used to seed a
	// freshly created channel before any protocol has run on it, and by
	// Revert to restore a pre-run snapshot.
	PutChannel(c statechannel.Channel) error

	// ListChannels returns every channel snapshot currently stored.
	ListChannels() ([]statechannel.Channel, error)

	// DeleteChannel removes a channel and its batch history.
	DeleteChannel(multisig common.Address) error

	Close() error
}

// BatchRecord is the backend-agnostic shape every protocol PERSIST call
// gets normalized to before being written: the resulting channel
// snapshot, which protocol produced it, and the app it touched (the zero
// hash for Setup, which has no identityHash yet).
type BatchRecord struct {
	Kind         string
	Channel      statechannel.Channel
	IdentityHash common.Hash
}

// Normalize converts one of the protocol package's per-protocol batch
// types into a BatchRecord a Store backend can persist without importing
// six separate struct definitions. It is exported so backend
// implementations outside this package can reuse it.
func Normalize(kind string, batch interface{}) (BatchRecord, error) {
	switch b := batch.(type) {
	case protocol.SetupBatch:
		return BatchRecord{Kind: kind, Channel: b.Channel}, nil
	case protocol.ProposeBatch:
		return BatchRecord{Kind: kind, Channel: b.Channel, IdentityHash: b.IdentityHash}, nil
	case protocol.InstallBatch:
		return BatchRecord{Kind: kind, Channel: b.Channel, IdentityHash: b.IdentityHash}, nil
	case protocol.UpdateBatch:
		return BatchRecord{Kind: kind, Channel: b.Channel, IdentityHash: b.IdentityHash}, nil
	case protocol.UninstallBatch:
		return BatchRecord{Kind: kind, Channel: b.Channel, IdentityHash: b.IdentityHash}, nil
	case protocol.TakeActionBatch:
		return BatchRecord{Kind: kind, Channel: b.Channel, IdentityHash: b.IdentityHash}, nil
	default:
		return BatchRecord{}, fmt.Errorf("%w: %T", ErrUnknownBatchKind, batch)
	}
}
