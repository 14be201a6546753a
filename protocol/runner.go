package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/wire"
)

// Signer signs a digest with the local participant's key, or the key
// named by keyOverride when set.
type Signer interface {
	Sign(digest common.Hash, keyOverride *common.Address) (commitment.Signature, error)
}

// Validator runs application-supplied middleware for a protocol step.
type Validator interface {
	Validate(protocol wire.ProtocolType, middlewareCtx interface{}) error
}

// MessageBus delivers fire-and-forget sends and blocking send-and-wait
// exchanges keyed by the envelope's ProcessID, mirroring the teacher's
// peer.go queueMsg/doneChan pattern generalized to a request/reply wait.
type MessageBus interface {
	Send(ctx context.Context, to string, msg *wire.Envelope) error
	SendAndWait(ctx context.Context, to string, msg *wire.Envelope) (*wire.Envelope, error)
}

// Persister applies a protocol's atomic store batch.
type Persister interface {
	Persist(kind string, batch interface{}) error
}

// Dependencies bundles everything Runner.Drive needs to execute a
// protocol's suspension points. Clock is injected so IO_SEND_AND_WAIT
// timeouts are deterministic under test.
type Dependencies struct {
	Signer    Signer
	Validator Validator
	Bus       MessageBus
	Store     Persister
	Clock     clock.Clock
}

// Runner drives a single protocol's Step chain to completion. It is
// single-threaded per invocation: Drive does not return until the
// protocol reaches KindDone or KindFail, matching the single-threaded
// per-channel execution model the caller's lock manager enforces.
type Runner struct {
	deps Dependencies
}

// NewRunner constructs a Runner over the given Dependencies.
func NewRunner(deps Dependencies) *Runner {
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}
	return &Runner{deps: deps}
}

// Drive advances step, and every step it yields, until the protocol
// reaches a terminal Step. Suspension points are exactly KindSign,
// KindSendAndWait, and KindPersist; KindValidate and KindSend never
// block beyond the call itself.
func (r *Runner) Drive(ctx context.Context, step Step) (*Result, *Error) {
	for {
		switch step.Kind {
		case KindDone:
			return step.Result, nil

		case KindFail:
			return nil, step.Err

		case KindSign:
			sig, err := r.deps.Signer.Sign(step.Sign.Digest, step.Sign.KeyOverride)
			if err != nil {
				return nil, Fail(ErrChainError, "sign digest", err)
			}
			next, nerr := step.Next(Output{Signature: sig})
			if nerr != nil {
				return nil, Fail(ErrInvariantViolation, "advance after sign", nerr)
			}
			step = next

		case KindValidate:
			verr := r.deps.Validator.Validate(step.Validate.Protocol, step.Validate.MiddlewareCtx)
			if verr != nil {
				return nil, Fail(ErrValidationRejected, verr.Error(), verr)
			}
			next, nerr := step.Next(Output{})
			if nerr != nil {
				return nil, Fail(ErrInvariantViolation, "advance after validate", nerr)
			}
			step = next

		case KindSend:
			if err := r.deps.Bus.Send(ctx, step.Send.To, step.Send.Msg); err != nil {
				return nil, Fail(ErrChainError, "send message", err)
			}
			next, nerr := step.Next(Output{})
			if nerr != nil {
				return nil, Fail(ErrInvariantViolation, "advance after send", nerr)
			}
			step = next

		case KindSendAndWait:
			waitCtx, cancel := r.withTimeout(ctx, step.SendAndWait.Timeout)
			reply, err := r.deps.Bus.SendAndWait(waitCtx, step.SendAndWait.To, step.SendAndWait.Msg)
			cancel()
			if err != nil {
				if waitCtx.Err() != nil {
					return nil, Fail(ErrTimeout, "io_send_and_wait timed out", err)
				}
				return nil, Fail(ErrChainError, "send_and_wait", err)
			}
			next, nerr := step.Next(Output{Reply: reply})
			if nerr != nil {
				return nil, Fail(ErrInvariantViolation, "advance after send_and_wait", nerr)
			}
			step = next

		case KindPersist:
			if err := r.deps.Store.Persist(step.Persist.Kind, step.Persist.Batch); err != nil {
				return nil, Fail(ErrStoreError, "persist "+step.Persist.Kind, err)
			}
			next, nerr := step.Next(Output{})
			if nerr != nil {
				return nil, Fail(ErrInvariantViolation, "advance after persist", nerr)
			}
			step = next

		default:
			return nil, Fail(ErrInvariantViolation, fmt.Sprintf("unknown step kind %v", step.Kind), nil)
		}
	}
}

// withTimeout derives a context that's canceled either when parent is
// canceled or when the injected clock fires after d, whichever comes
// first. Using clock.Clock.TickAfter instead of time.AfterFunc lets
// tests drive IO_SEND_AND_WAIT timeouts deterministically with
// clock.TestClock rather than sleeping wall-clock time.
func (r *Runner) withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if d <= 0 {
		return ctx, cancel
	}

	timer := r.deps.Clock.TickAfter(d)
	go func() {
		select {
		case <-timer:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
