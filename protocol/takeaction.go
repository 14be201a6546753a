package protocol

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// TakeActionBatch is the PERSIST payload for either phase of TakeAction.
// Intermediate is true for the single-signed persist that records
// LatestAction before the responder has countersigned; it is false for
// the final double-signed persist that clears it.
type TakeActionBatch struct {
	Channel      statechannel.Channel
	IdentityHash common.Hash
	Commitment   *commitment.SetStateCommitment
	Intermediate bool
}

// NewTakeActionInitiator builds the initiator's side of TakeAction: a
// pure state transition via the app definition, a single-signed
// intermediate persist recording the pending action, the exchange with
// the responder, and a final double-signed persist.
func NewTakeActionInitiator(ctx context.Context, pctx Context, caller evmchain.ContractCaller,
	identityHash common.Hash, action []byte, challengeRegistry common.Address) Step {

	app, ok := pctx.Channel.App(identityHash)
	if !ok {
		return FailStep(Fail(ErrNotFound, "app not found for take action", nil))
	}

	newState, err := statechannel.ComputeStateTransition(ctx, caller, app, action)
	if err != nil {
		return FailStep(Fail(ErrChainError, "compute state transition", err))
	}

	newVersionNumber := app.VersionNumber + 1

	return Validate(wire.ProtocolTakeAction, action, func(Output) (Step, error) {
		withAction, err := statechannel.SetPendingAction(pctx.Channel, identityHash, action)
		if err != nil {
			return Step{}, err
		}
		updated, err := statechannel.SetState(withAction, identityHash, newState, newVersionNumber, app.StateTimeout)
		if err != nil {
			return Step{}, err
		}

		c := buildUpdateCommitment(app, identityHash, newState, newVersionNumber, app.StateTimeout, challengeRegistry)
		digest, err := c.HashToSign()
		if err != nil {
			return Step{}, err
		}

		return Sign(digest, nil, func(out Output) (Step, error) {
			mine := out.Signature
			if err := c.AddSignatures(mine); err != nil {
				// A lone initiator signature won't recover a second
				// participant yet; AddSignatures still validates it
				// recovers to a known owner before we persist it.
				return Step{}, err
			}

			pendingBatch := TakeActionBatch{
				Channel: withAction, IdentityHash: identityHash, Commitment: c, Intermediate: true,
			}

			return Persist("takeaction-pending", pendingBatch, func(Output) (Step, error) {
				params := &wire.TakeActionParams{IdentityHash: identityHash, Action: action}
				env, err := wire.NewEnvelope(pctx.ProcessID, pctx.Seq, pctx.PeerIdentifier, pctx.LocalIdentifier, params)
				if err != nil {
					return Step{}, err
				}
				env.CustomData.Signature = mine.OnChainBytes()

				return SendAndWait(pctx.PeerIdentifier, env, pctx.SendAndWaitTimeout, func(out Output) (Step, error) {
					theirs, err := commitment.SignatureFromOnChainBytes(out.Reply.CustomData.Signature)
					if err != nil {
						return Step{}, err
					}
					if err := c.AddSignatures(mine, theirs); err != nil {
						return Step{}, err
					}

					finalBatch := TakeActionBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}
					return Persist("takeaction-final", finalBatch, func(Output) (Step, error) {
						return Done(&Result{Protocol: wire.ProtocolTakeAction, IdentityHash: identityHash, Data: finalBatch}), nil
					}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}

// NewTakeActionResponder builds the responder's side of TakeAction:
// verify the initiator's signature against the action's independently
// recomputed post-state, countersign, reply, and persist directly to
// the double-signed final state — responders never hold a pending,
// single-signed intermediate, since they cannot unilaterally progress
// state.
func NewTakeActionResponder(ctx context.Context, pctx Context, caller evmchain.ContractCaller,
	params *wire.TakeActionParams, initiatorSigBytes []byte, challengeRegistry common.Address) Step {

	app, ok := pctx.Channel.App(params.IdentityHash)
	if !ok {
		return FailStep(Fail(ErrNotFound, "app not found for take action", nil))
	}

	newState, err := statechannel.ComputeStateTransition(ctx, caller, app, params.Action)
	if err != nil {
		return FailStep(Fail(ErrChainError, "compute state transition", err))
	}

	newVersionNumber := app.VersionNumber + 1
	c := buildUpdateCommitment(app, params.IdentityHash, newState, newVersionNumber, app.StateTimeout, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute take action hash", err))
	}

	theirs, err := commitment.SignatureFromOnChainBytes(initiatorSigBytes)
	if err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "parse initiator signature", err))
	}
	if _, err := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, app.Identity.Participants); err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "initiator signature", err))
	}

	return Validate(wire.ProtocolTakeAction, params, func(Output) (Step, error) {
		updated, err := statechannel.SetState(pctx.Channel, params.IdentityHash, newState, newVersionNumber, app.StateTimeout)
		if err != nil {
			return Step{}, err
		}

		return Sign(digest, nil, func(out Output) (Step, error) {
			mine := out.Signature
			if err := c.AddSignatures(mine, theirs); err != nil {
				return Step{}, err
			}

			env, err := wire.NewEnvelope(pctx.ProcessID, pctx.Seq, pctx.PeerIdentifier, pctx.LocalIdentifier, params)
			if err != nil {
				return Step{}, err
			}
			env.CustomData.Signature = mine.OnChainBytes()

			batch := TakeActionBatch{Channel: updated, IdentityHash: params.IdentityHash, Commitment: c}

			return Send(pctx.PeerIdentifier, env, func(Output) (Step, error) {
				return Persist("takeaction-final", batch, func(Output) (Step, error) {
					return Done(&Result{Protocol: wire.ProtocolTakeAction, IdentityHash: params.IdentityHash, Data: batch}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}
