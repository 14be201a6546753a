package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// UpdateBatch is the PERSIST payload for a completed Update: the channel
// with the app's state replaced, plus the double-signed SetState
// commitment standing behind it.
type UpdateBatch struct {
	Channel      statechannel.Channel
	IdentityHash common.Hash
	Commitment   *commitment.SetStateCommitment
}

func buildUpdateCommitment(app statechannel.AppInstance, identityHash common.Hash,
	newState []byte, newVersionNumber, timeout uint64, challengeRegistry common.Address) *commitment.SetStateCommitment {

	appStateHash := evmchain.Keccak256(newState)
	return commitment.NewSetStateCommitment(
		challengeRegistry, app.Identity.ChannelNonce, app.Identity.Participants,
		app.Identity.AppDefinition, app.Identity.DefaultTimeout,
		newVersionNumber, timeout, appStateHash,
	)
}

// NewUpdateInitiator builds the initiator's side of a direct Update:
// replace newState at a strictly higher version, sign, exchange, and
// persist. TakeAction builds on this after computing newState via a
// pure state transition rather than taking it as a caller-supplied
// value.
func NewUpdateInitiator(ctx Context, identityHash common.Hash, newState []byte,
	newVersionNumber, timeout uint64, challengeRegistry common.Address) Step {

	app, ok := ctx.Channel.App(identityHash)
	if !ok {
		return FailStep(Fail(ErrNotFound, "app not found for update", nil))
	}

	updated, err := statechannel.SetState(ctx.Channel, identityHash, newState, newVersionNumber, timeout)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "set state", err))
	}

	c := buildUpdateCommitment(app, identityHash, newState, newVersionNumber, timeout, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute update hash", err))
	}

	params := &wire.UpdateParams{
		IdentityHash:  identityHash,
		NewState:      newState,
		VersionNumber: newVersionNumber,
		StateTimeout:  timeout,
	}

	return Sign(digest, nil, func(out Output) (Step, error) {
		mine := out.Signature

		env, err := wire.NewEnvelope(ctx.ProcessID, ctx.Seq, ctx.PeerIdentifier, ctx.LocalIdentifier, params)
		if err != nil {
			return Step{}, err
		}
		env.CustomData.Signature = mine.OnChainBytes()

		return SendAndWait(ctx.PeerIdentifier, env, ctx.SendAndWaitTimeout, func(out Output) (Step, error) {
			theirs, err := commitment.SignatureFromOnChainBytes(out.Reply.CustomData.Signature)
			if err != nil {
				return Step{}, err
			}
			if err := c.AddSignatures(mine, theirs); err != nil {
				return Step{}, err
			}

			batch := UpdateBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}
			return Persist("update", batch, func(Output) (Step, error) {
				return Done(&Result{Protocol: wire.ProtocolUpdate, IdentityHash: identityHash, Data: batch}), nil
			}), nil
		}), nil
	}), nil
}

// NewUpdateResponder builds the responder's side of a direct Update.
func NewUpdateResponder(ctx Context, params *wire.UpdateParams, initiatorSigBytes []byte,
	challengeRegistry common.Address) Step {

	app, ok := ctx.Channel.App(params.IdentityHash)
	if !ok {
		return FailStep(Fail(ErrNotFound, "app not found for update", nil))
	}

	updated, err := statechannel.SetState(ctx.Channel, params.IdentityHash, params.NewState,
		params.VersionNumber, params.StateTimeout)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "set state", err))
	}

	c := buildUpdateCommitment(app, params.IdentityHash, params.NewState, params.VersionNumber,
		params.StateTimeout, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute update hash", err))
	}

	theirs, err := commitment.SignatureFromOnChainBytes(initiatorSigBytes)
	if err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "parse initiator signature", err))
	}
	if _, err := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, app.Identity.Participants); err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "initiator signature", err))
	}

	return Validate(wire.ProtocolUpdate, params, func(Output) (Step, error) {
		return Sign(digest, nil, func(out Output) (Step, error) {
			mine := out.Signature
			if err := c.AddSignatures(mine, theirs); err != nil {
				return Step{}, err
			}

			env, err := wire.NewEnvelope(ctx.ProcessID, ctx.Seq, ctx.PeerIdentifier, ctx.LocalIdentifier, params)
			if err != nil {
				return Step{}, err
			}
			env.CustomData.Signature = mine.OnChainBytes()

			batch := UpdateBatch{Channel: updated, IdentityHash: params.IdentityHash, Commitment: c}

			return Send(ctx.PeerIdentifier, env, func(Output) (Step, error) {
				return Persist("update", batch, func(Output) (Step, error) {
					return Done(&Result{Protocol: wire.ProtocolUpdate, IdentityHash: params.IdentityHash, Data: batch}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}
