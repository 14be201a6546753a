package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// UninstallBatch is the PERSIST payload for a completed Uninstall: the
// channel with the app removed and the free balance credited, plus the
// SetState commitment over the free balance's new, higher-versioned
// state.
type UninstallBatch struct {
	Channel      statechannel.Channel
	IdentityHash common.Hash
	Commitment   *commitment.SetStateCommitment
}

func buildUninstallCommitment(updated statechannel.Channel, challengeRegistry common.Address) *commitment.SetStateCommitment {
	fb := updated.FreeBalanceAppInstance
	appStateHash := evmchain.Keccak256(fb.LatestState)
	return commitment.NewSetStateCommitment(
		challengeRegistry, fb.Identity.ChannelNonce, fb.Identity.Participants,
		fb.Identity.AppDefinition, fb.Identity.DefaultTimeout,
		fb.VersionNumber, fb.StateTimeout, appStateHash,
	)
}

// NewUninstallInitiator builds the initiator's side of the Uninstall
// protocol: credit the free balance per redistribution, sign the
// resulting SetState commitment, exchange signatures, persist.
func NewUninstallInitiator(ctx Context, identityHash common.Hash, params *wire.UninstallParams,
	challengeRegistry common.Address) Step {

	redistribution := statechannel.Redistribution{
		Token:            params.Token,
		InitiatorAddress: ctx.Channel.MultisigOwners[0],
		ResponderAddress: ctx.Channel.MultisigOwners[1],
		InitiatorAmount:  params.InitiatorAmount,
		ResponderAmount:  params.ResponderAmount,
	}

	updated, err := statechannel.UninstallApp(ctx.Channel, identityHash, redistribution)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "uninstall app", err))
	}

	c := buildUninstallCommitment(updated, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute uninstall hash", err))
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

			batch := UninstallBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}
			return Persist("uninstall", batch, func(Output) (Step, error) {
				return Done(&Result{Protocol: wire.ProtocolUninstall, IdentityHash: identityHash, Data: batch}), nil
			}), nil
		}), nil
	}), nil
}

// NewUninstallResponder builds the responder's side of the Uninstall
// protocol.
func NewUninstallResponder(ctx Context, identityHash common.Hash, params *wire.UninstallParams,
	initiatorSigBytes []byte, challengeRegistry common.Address) Step {

	redistribution := statechannel.Redistribution{
		Token:            params.Token,
		InitiatorAddress: ctx.Channel.MultisigOwners[0],
		ResponderAddress: ctx.Channel.MultisigOwners[1],
		InitiatorAmount:  params.InitiatorAmount,
		ResponderAmount:  params.ResponderAmount,
	}

	updated, err := statechannel.UninstallApp(ctx.Channel, identityHash, redistribution)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "uninstall app", err))
	}

	c := buildUninstallCommitment(updated, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute uninstall hash", err))
	}

	theirs, err := commitment.SignatureFromOnChainBytes(initiatorSigBytes)
	if err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "parse initiator signature", err))
	}
	if _, err := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, updated.FreeBalanceAppInstance.Identity.Participants); err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "initiator signature", err))
	}

	return Validate(wire.ProtocolUninstall, params, func(Output) (Step, error) {
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

			batch := UninstallBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}

			return Send(ctx.PeerIdentifier, env, func(Output) (Step, error) {
				return Persist("uninstall", batch, func(Output) (Step, error) {
					return Done(&Result{Protocol: wire.ProtocolUninstall, IdentityHash: identityHash, Data: batch}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}
