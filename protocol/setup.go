package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// SetupBatch is the PERSIST payload for a completed Setup: the channel
// with its free balance now initialized, plus the fully-signed Setup
// commitment.
type SetupBatch struct {
	Channel    statechannel.Channel
	Commitment *commitment.SetupCommitment
}

func buildSetupCommitment(c *statechannel.Channel, p *wire.SetupParams) (*commitment.SetupCommitment, error) {
	return commitment.NewSetupCommitment(
		p.Multisig, c.MultisigOwners[:], p.FreeBalanceInterpreter, p.FreeBalanceIdentityHash,
		p.InterpreterParams, p.DomainName, p.DomainVersion, p.ChainID, p.DomainSalt, p.Nonce,
	)
}

// NewSetupInitiator builds the initiator's side of the Setup protocol:
// sign the Setup commitment, send it and wait for the responder's
// counter-signature, then persist the initialized free balance.
// freeBalanceAppDefinition is the engine-local address of the free
// balance app definition contract, not something negotiated per-channel.
func NewSetupInitiator(ctx Context, params *wire.SetupParams,
	freeBalanceAppDefinition common.Address, defaultTimeout uint64) Step {

	c, err := buildSetupCommitment(&ctx.Channel, params)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "build setup commitment", err))
	}

	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute setup hash", err))
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

			updated, err := statechannel.InitFreeBalance(ctx.Channel, freeBalanceAppDefinition, defaultTimeout)
			if err != nil {
				return Step{}, err
			}

			batch := SetupBatch{Channel: updated, Commitment: c}
			return Persist("setup", batch, func(Output) (Step, error) {
				return Done(&Result{Protocol: wire.ProtocolSetup, Data: batch}), nil
			}), nil
		}), nil
	}), nil
}

// NewSetupResponder builds the responder's side: verify the initiator's
// signature, counter-sign, reply, and persist.
func NewSetupResponder(ctx Context, params *wire.SetupParams, initiatorSigBytes []byte,
	freeBalanceAppDefinition common.Address, defaultTimeout uint64) Step {

	c, err := buildSetupCommitment(&ctx.Channel, params)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "build setup commitment", err))
	}

	theirs, err := commitment.SignatureFromOnChainBytes(initiatorSigBytes)
	if err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "parse initiator signature", err))
	}

	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute setup hash", err))
	}
	if _, err := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, c.Owners); err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "initiator signature", err))
	}

	return Validate(wire.ProtocolSetup, params, func(Output) (Step, error) {
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

			updated, err := statechannel.InitFreeBalance(ctx.Channel, freeBalanceAppDefinition, defaultTimeout)
			if err != nil {
				return Step{}, err
			}
			batch := SetupBatch{Channel: updated, Commitment: c}

			return Send(ctx.PeerIdentifier, env, func(Output) (Step, error) {
				return Persist("setup", batch, func(Output) (Step, error) {
					return Done(&Result{Protocol: wire.ProtocolSetup, Data: batch}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}
