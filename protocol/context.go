package protocol

import (
	"time"

	"github.com/statechan/scnode/statechannel"
)

// Context bundles the data every protocol needs to build its Step chain:
// the channel snapshot as loaded by the engine under lock, and the
// addressing/timing parameters for the peer exchange.
type Context struct {
	Channel statechannel.Channel

	ProcessID       string
	LocalIdentifier string
	PeerIdentifier  string
	Seq             uint64

	// SendAndWaitTimeout bounds every IO_SEND_AND_WAIT in this protocol
	// run; zero means no timeout (used only in tests).
	SendAndWaitTimeout time.Duration
}
