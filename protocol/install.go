package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// InstallBatch is the PERSIST payload for a completed Install: the
// channel with the proposal replaced by the installed app and the free
// balance debited, plus the ConditionalTransaction commitment that now
// guards the app's eventual outcome.
type InstallBatch struct {
	Channel      statechannel.Channel
	IdentityHash common.Hash
	Commitment   *commitment.ConditionalTransactionCommitment
}

func buildInstallCommitment(domain MultisigDomain, owners []common.Address, identityHash common.Hash,
	params *wire.InstallParams, nonce uint64) (*commitment.ConditionalTransactionCommitment, error) {

	return commitment.NewConditionalTransactionCommitment(
		domain.Multisig, owners, params.InterpreterAddress, identityHash,
		params.EncodedOutcome, params.InterpreterParams,
		domain.DomainName, domain.DomainVersion, domain.ChainID, domain.Salt, nonce,
	)
}

// NewInstallInitiator builds the initiator's side of the Install
// protocol: apply the free-balance debit, build and sign the
// ConditionalTransaction commitment, exchange signatures, persist.
func NewInstallInitiator(ctx Context, identityHash common.Hash, params *wire.InstallParams,
	domain MultisigDomain, nonce uint64) Step {

	updated, err := statechannel.InstallApp(ctx.Channel, identityHash)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "install app", err))
	}

	c, err := buildInstallCommitment(domain, ctx.Channel.MultisigOwners[:], identityHash, params, nonce)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "build conditional transaction commitment", err))
	}

	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute install hash", err))
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

			batch := InstallBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}
			return Persist("install", batch, func(Output) (Step, error) {
				return Done(&Result{Protocol: wire.ProtocolInstall, IdentityHash: identityHash, Data: batch}), nil
			}), nil
		}), nil
	}), nil
}

// NewInstallResponder builds the responder's side of the Install
// protocol.
func NewInstallResponder(ctx Context, identityHash common.Hash, params *wire.InstallParams,
	initiatorSigBytes []byte, domain MultisigDomain, nonce uint64) Step {

	updated, err := statechannel.InstallApp(ctx.Channel, identityHash)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "install app", err))
	}

	c, err := buildInstallCommitment(domain, ctx.Channel.MultisigOwners[:], identityHash, params, nonce)
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "build conditional transaction commitment", err))
	}

	digest, err := c.HashToSign()
	if err != nil {
		return FailStep(Fail(ErrInvariantViolation, "compute install hash", err))
	}

	theirs, err := commitment.SignatureFromOnChainBytes(initiatorSigBytes)
	if err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "parse initiator signature", err))
	}
	if _, err := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, c.Owners); err != nil {
		return FailStep(Fail(ErrSignatureMismatch, "initiator signature", err))
	}

	return Validate(wire.ProtocolInstall, params, func(Output) (Step, error) {
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

			batch := InstallBatch{Channel: updated, IdentityHash: identityHash, Commitment: c}

			return Send(ctx.PeerIdentifier, env, func(Output) (Step, error) {
				return Persist("install", batch, func(Output) (Step, error) {
					return Done(&Result{Protocol: wire.ProtocolInstall, IdentityHash: identityHash, Data: batch}), nil
				}), nil
			}), nil
		}), nil
	}), nil
}
