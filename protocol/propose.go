package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// ProposeBatch is the PERSIST payload for a completed Propose: the
// channel with the new proposal recorded, and the double-signed
// SetState commitment standing behind its initial state.
type ProposeBatch struct {
	Channel      statechannel.Channel
	IdentityHash common.Hash
	Commitment   *commitment.SetStateCommitment
}

func buildProposal(c *statechannel.Channel, p *wire.ProposeParams) statechannel.Proposal {
	return statechannel.Proposal{
		Identity: statechannel.AppIdentity{
			ChannelNonce:   p.ChannelNonce,
			Participants:   append([]common.Address{}, c.MultisigOwners[:]...),
			AppDefinition:  p.AppDefinition,
			DefaultTimeout: p.DefaultTimeout,
		},
		InitialState:     append([]byte{}, p.InitialState...),
		Token:            p.Token,
		InitiatorAddress: p.InitiatorAddress,
		ResponderAddress: p.ResponderAddress,
		InitiatorDeposit: p.InitiatorDeposit,
		ResponderDeposit: p.ResponderDeposit,
	}
}

func buildProposeCommitment(proposal statechannel.Proposal, challengeRegistry common.Address) *commitment.SetStateCommitment {
	appStateHash := evmchain.Keccak256(proposal.InitialState)
	return commitment.NewSetStateCommitment(
		challengeRegistry, proposal.Identity.ChannelNonce, proposal.Identity.Participants,
		proposal.Identity.AppDefinition, proposal.Identity.DefaultTimeout,
		1, proposal.Identity.DefaultTimeout, appStateHash,
	)
}

// NewProposeInitiator builds the initiator's side of the Propose
// protocol.
func NewProposeInitiator(ctx Context, params *wire.ProposeParams, challengeRegistry common.Address) Step {
	proposal := buildProposal(&ctx.Channel, params)

	updated, identityHash, err := statechannel.ProposeApp(ctx.Channel, proposal)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "propose app", err))
	}

	c := buildProposeCommitment(proposal, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute propose hash", err))
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

			batch := ProposeBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}
			return Persist("propose", batch, func(Output) (Step, error) {
				return Done(&Result{Protocol: wire.ProtocolPropose, IdentityHash: identityHash, Data: batch}), nil
			}), nil
		}), nil
	}), nil
}

// NewProposeResponder builds the responder's side of the Propose
// protocol.
func NewProposeResponder(ctx Context, params *wire.ProposeParams, initiatorSigBytes []byte,
	challengeRegistry common.Address) Step {

	proposal := buildProposal(&ctx.Channel, params)

	updated, identityHash, err := statechannel.ProposeApp(ctx.Channel, proposal)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "propose app", err))
	}

	c := buildProposeCommitment(proposal, challengeRegistry)
	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute propose hash", err))
	}

	theirs, err := commitment.SignatureFromOnChainBytes(initiatorSigBytes)
	if err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "parse initiator signature", err))
	}
	if _, err := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, proposal.Identity.Participants); err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "initiator signature", err))
	}

	return Validate(wire.ProtocolPropose, params, func(Output) (Step, error) {
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

			batch := ProposeBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}

			return Send(ctx.PeerIdentifier, env, func(Output) (Step, error) {
				return Persist("propose", batch, func(Output) (Step, error) {
					return Done(&Result{Protocol: wire.ProtocolPropose, IdentityHash: identityHash, Data: batch}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}
