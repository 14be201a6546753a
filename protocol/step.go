// Package protocol implements the six channel protocols (Setup, Propose,
// Install, Update, TakeAction, Uninstall) as explicit state machines over
// a small fixed set of suspension points, rather than as goroutine-based
// coroutines: each protocol function builds a Step describing the next
// thing the driver must do on its behalf (sign, validate, send a peer
// message, send-and-wait for a reply, or persist), and a Continuation
// that resumes the protocol once the driver has done it. Runner.Drive is
// the single loop that walks this chain to completion.
package protocol

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/wire"
)

// Kind names which suspension point a Step represents.
type Kind int

const (
	KindSign Kind = iota
	KindValidate
	KindSend
	KindSendAndWait
	KindPersist
	KindDone
	KindFail
)

func (k Kind) String() string {
	switch k {
	case KindSign:
		return "Sign"
	case KindValidate:
		return "Validate"
	case KindSend:
		return "Send"
	case KindSendAndWait:
		return "SendAndWait"
	case KindPersist:
		return "Persist"
	case KindDone:
		return "Done"
	case KindFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// SignRequest asks the driver to sign digest with the local participant's
// key, or with keyOverride if non-nil (e.g. the free balance's dedicated
// channel key rather than the node's top-level identity key).
type SignRequest struct {
	Digest      common.Hash
	KeyOverride *common.Address
}

// ValidateRequest asks the driver to run application-supplied middleware
// against the protocol and a middleware-specific context blob.
type ValidateRequest struct {
	Protocol      wire.ProtocolType
	MiddlewareCtx interface{}
}

// SendRequest asks the driver to fire-and-forget a message to a peer.
type SendRequest struct {
	To  string
	Msg *wire.Envelope
}

// SendAndWaitRequest asks the driver to send a message and block until a
// reply sharing its ProcessID is delivered, bounded by Timeout.
type SendAndWaitRequest struct {
	To      string
	Msg     *wire.Envelope
	Timeout time.Duration
}

// PersistRequest asks the driver to atomically apply a batch of store
// writes. Kind is backend-agnostic and purely descriptive (used for
// logging); the actual write shape lives in the channeldb package this
// protocol package doesn't import, so Batch is an opaque value the
// Persister implementation knows how to interpret.
type PersistRequest struct {
	Kind  string
	Batch interface{}
}

// Output is the result the driver feeds back into a Step's Continuation.
type Output struct {
	Signature   commitment.Signature
	ValidateErr error
	Reply       *wire.Envelope
	PersistErr  error
}

// Continuation resumes a suspended protocol with the driver's result for
// the Step it was given.
type Continuation func(Output) (Step, error)

// Step is one node in a protocol's suspension chain.
type Step struct {
	Kind Kind

	Sign        *SignRequest
	Validate    *ValidateRequest
	Send        *SendRequest
	SendAndWait *SendAndWaitRequest
	Persist     *PersistRequest

	Result *Result
	Err    *Error

	Next Continuation
}

// Result is what a successfully completed protocol hands back to its
// caller.
type Result struct {
	Protocol     wire.ProtocolType
	IdentityHash common.Hash
	Data         interface{}
}

// Sign builds a KindSign Step.
func Sign(digest common.Hash, keyOverride *common.Address, next Continuation) Step {
	return Step{Kind: KindSign, Sign: &SignRequest{Digest: digest, KeyOverride: keyOverride}, Next: next}
}

// Validate builds a KindValidate Step.
func Validate(protocol wire.ProtocolType, middlewareCtx interface{}, next Continuation) Step {
	return Step{Kind: KindValidate, Validate: &ValidateRequest{Protocol: protocol, MiddlewareCtx: middlewareCtx}, Next: next}
}

// Send builds a KindSend Step.
func Send(to string, msg *wire.Envelope, next Continuation) Step {
	return Step{Kind: KindSend, Send: &SendRequest{To: to, Msg: msg}, Next: next}
}

// SendAndWait builds a KindSendAndWait Step.
func SendAndWait(to string, msg *wire.Envelope, timeout time.Duration, next Continuation) Step {
	return Step{Kind: KindSendAndWait, SendAndWait: &SendAndWaitRequest{To: to, Msg: msg, Timeout: timeout}, Next: next}
}

// Persist builds a KindPersist Step.
func Persist(kind string, batch interface{}, next Continuation) Step {
	return Step{Kind: KindPersist, Persist: &PersistRequest{Kind: kind, Batch: batch}, Next: next}
}

// Done builds a terminal success Step.
func Done(result *Result) Step {
	return Step{Kind: KindDone, Result: result}
}

// FailStep builds a terminal failure Step.
func FailStep(err *Error) Step {
	return Step{Kind: KindFail, Err: err}
}
