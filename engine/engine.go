// Package engine ties the protocol runner, the persistence layer, and
// the per-channel lock manager into the method surface a JSON-RPC-style
// façade (or a direct Go caller) drives a channel through: chan_create,
// chan_proposeInstall, chan_install, chan_update, chan_takeAction,
// chan_uninstall, and chan_withdraw, plus read-only chan_getState /
// chan_getAppInstance. Every mutating method follows the same shape as
// rpcServer's handlers: acquire the multisig lock, load the current
// snapshot, drive one protocol.Step chain to completion, and hand back a
// typed result or a classified *Error.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/statechan/scnode/channeldb"
	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
	"github.com/statechan/scnode/identity"
	"github.com/statechan/scnode/lockmanager"
	"github.com/statechan/scnode/metrics"
	"github.com/statechan/scnode/protocol"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

// Params bundles the engine-local configuration every protocol round
// needs beyond what travels on the wire: the free balance app
// definition, the on-chain ChallengeRegistry, the default challenge
// period, and how long IO_SEND_AND_WAIT waits before failing the round.
type Params struct {
	FreeBalanceAppDefinition common.Address
	ChallengeRegistry        common.Address
	DefaultTimeoutBlocks     uint64
	SendAndWaitTimeout       time.Duration
}

// Engine is a single node's channel runtime: one per local identifier,
// coordinating every channel that identifier participates in.
type Engine struct {
	localIdentifier string

	store channeldb.Store
	locks *lockmanager.Manager
	keys  *KeyRing
	bus   *PeerBus
	chain evmchain.ContractCaller
	clk   clock.Clock

	validator protocol.Validator

	params Params

	// domains and nonces hold the per-multisig bookkeeping Setup
	// establishes but statechannel.Channel has no field for: the
	// negotiated EIP-712-style domain and a monotonically increasing
	// nonce for Install/Withdraw commitments against that multisig.
	// Install and Withdraw both route through the multisig's
	// execTransaction, so both need this alongside the channel snapshot
	// itself.
	mu      sync.RWMutex
	domains map[common.Address]protocol.MultisigDomain
	nonces  map[common.Address]uint64
}

// New constructs an Engine. validator may be nil, in which case every
// protocol round accepts unconditionally.
func New(localIdentifier string, store channeldb.Store, keys *KeyRing, bus *PeerBus,
	chain evmchain.ContractCaller, validator protocol.Validator, params Params) *Engine {

	if validator == nil {
		validator = NewMiddlewareChain()
	}

	return &Engine{
		localIdentifier: localIdentifier,
		store:           store,
		locks:           lockmanager.New(),
		keys:            keys,
		bus:             bus,
		chain:           chain,
		clk:             clock.NewDefaultClock(),
		validator:       validator,
		params:          params,
		domains:         make(map[common.Address]protocol.MultisigDomain),
		nonces:          make(map[common.Address]uint64),
	}
}

// recordDomain stashes the domain a Setup round negotiated so later
// Install/Withdraw rounds against the same multisig don't need it
// resent on the wire.
func (e *Engine) recordDomain(multisig common.Address, d protocol.MultisigDomain) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.domains[multisig] = d
}

// DomainFor returns the domain Setup negotiated for multisig, if any.
func (e *Engine) DomainFor(multisig common.Address) (protocol.MultisigDomain, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.domains[multisig]
	return d, ok
}

// NextNonce returns the next execTransaction nonce for multisig and
// advances the counter. Both Install and Withdraw commitments route
// through the same multisig execTransaction nonce space.
func (e *Engine) NextNonce(multisig common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.nonces[multisig]
	e.nonces[multisig] = n + 1
	return n
}

// observeNonce folds a nonce chosen by the peer into this side's own
// counter so a later local NextNonce never reissues one already spent by
// whichever party happened to initiate last.
func (e *Engine) observeNonce(multisig common.Address, nonce uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if nonce >= e.nonces[multisig] {
		e.nonces[multisig] = nonce + 1
	}
}

func (e *Engine) runner() *protocol.Runner {
	return protocol.NewRunner(protocol.Dependencies{
		Signer:    e.keys,
		Validator: e.validator,
		Bus:       e.bus,
		Store:     e.store,
		Clock:     e.clk,
	})
}

func (e *Engine) newContext(c statechannel.Channel, peerIdentifier, processID string, seq uint64) protocol.Context {
	return protocol.Context{
		Channel:            c,
		ProcessID:          processID,
		LocalIdentifier:    e.localIdentifier,
		PeerIdentifier:     peerIdentifier,
		Seq:                seq,
		SendAndWaitTimeout: e.params.SendAndWaitTimeout,
	}
}

// drive acquires the multisig's lock, loads its current snapshot, runs
// build against it, and releases the lock before returning, reverting
// the store to the captured snapshot if the protocol fails. build
// returns the Step chain; drive makes the actual Drive call so callers
// share identical error translation.
func (e *Engine) drive(protocolType wire.ProtocolType, multisig common.Address, peerIdentifier, processID string, seq uint64,
	build func(ctx protocol.Context) protocol.Step) (*protocol.Result, *Error) {

	release := e.locks.Acquire(multisig)
	defer release()

	c, err := e.store.LoadChannel(multisig)
	if err != nil {
		return nil, &Error{Code: "NotFound", Message: err.Error()}
	}

	snap, err := channeldb.Capture(e.store, multisig)
	if err != nil {
		return nil, &Error{Code: "StoreError", Message: err.Error()}
	}

	step := build(e.newContext(c, peerIdentifier, processID, seq))

	result, perr := e.runner().Drive(context.Background(), step)
	if perr != nil {
		metrics.ObserveResult(protocolType, perr)
		metrics.ObserveFailure(protocolType, perr.Code.String())
		log.Errorf("%s round with %s failed: %v", protocolType, peerIdentifier, perr)
		if revertErr := channeldb.Revert(e.store, snap); revertErr != nil {
			return nil, &Error{Code: "StoreError",
				Message: fmt.Sprintf("%v (revert also failed: %v)", perr, revertErr)}
		}
		return nil, fromProtocolError(perr)
	}
	metrics.ObserveResult(protocolType, nil)
	log.Debugf("%s round with %s completed", protocolType, peerIdentifier)
	return result, nil
}

// ChanCreate opens a blank channel record ahead of running Setup on it,
// the persistence-only step that precedes the first protocol round.
func (e *Engine) ChanCreate(multisig common.Address, userIdentifiers [2]*identity.ExtendedPublicKey,
	owners [2]common.Address) *Error {

	release := e.locks.Acquire(multisig)
	defer release()

	c := statechannel.NewChannel(multisig, userIdentifiers, owners)
	if err := e.store.CreateChannel(c); err != nil {
		return &Error{Code: "AlreadyExists", Message: err.Error()}
	}
	return nil
}

// ChanSetup drives the Setup protocol as either initiator or responder.
// When initiatorSigBytes is nil, this call is the initiator's side and
// blocks for the responder's counter-signature; when non-nil, it is the
// responder's side answering an inbound proposal.
func (e *Engine) ChanSetup(multisig common.Address, peerIdentifier, processID string, seq uint64,
	params *wire.SetupParams, initiatorSigBytes []byte) (*protocol.Result, *Error) {

	result, err := e.drive(wire.ProtocolSetup, multisig, peerIdentifier, processID, seq, func(ctx protocol.Context) protocol.Step {
		if initiatorSigBytes == nil {
			return protocol.NewSetupInitiator(ctx, params, e.params.FreeBalanceAppDefinition, e.params.DefaultTimeoutBlocks)
		}
		return protocol.NewSetupResponder(ctx, params, initiatorSigBytes, e.params.FreeBalanceAppDefinition, e.params.DefaultTimeoutBlocks)
	})
	if err != nil {
		return nil, err
	}

	e.recordDomain(multisig, protocol.MultisigDomain{
		Multisig:      multisig,
		DomainName:    params.DomainName,
		DomainVersion: params.DomainVersion,
		ChainID:       params.ChainID,
		Salt:          params.DomainSalt,
	})
	return result, nil
}

// ChanProposeInstall drives the Propose protocol: register a not-yet-
// installed app instance and its initial state.
func (e *Engine) ChanProposeInstall(multisig common.Address, peerIdentifier, processID string, seq uint64,
	params *wire.ProposeParams, initiatorSigBytes []byte) (*protocol.Result, *Error) {

	return e.drive(wire.ProtocolPropose, multisig, peerIdentifier, processID, seq, func(ctx protocol.Context) protocol.Step {
		if initiatorSigBytes == nil {
			return protocol.NewProposeInitiator(ctx, params, e.params.ChallengeRegistry)
		}
		return protocol.NewProposeResponder(ctx, params, initiatorSigBytes, e.params.ChallengeRegistry)
	})
}

// ChanInstall drives the Install protocol: move a proposed app into the
// installed set, debiting the free balance for its deposits.
func (e *Engine) ChanInstall(multisig common.Address, identityHash common.Hash, peerIdentifier, processID string, seq uint64,
	params *wire.InstallParams, initiatorSigBytes []byte) (*protocol.Result, *Error) {

	domain, ok := e.DomainFor(multisig)
	if !ok {
		return nil, &Error{Code: "InvariantViolation", Message: "engine: install before setup negotiated a domain"}
	}
	// The initiator mints the nonce and carries it on params so the
	// responder, dispatched from the decoded wire message, signs over the
	// identical commitment rather than minting its own.
	if initiatorSigBytes == nil {
		params.Nonce = e.NextNonce(multisig)
	} else {
		e.observeNonce(multisig, params.Nonce)
	}

	return e.drive(wire.ProtocolInstall, multisig, peerIdentifier, processID, seq, func(ctx protocol.Context) protocol.Step {
		if initiatorSigBytes == nil {
			return protocol.NewInstallInitiator(ctx, identityHash, params, domain, params.Nonce)
		}
		return protocol.NewInstallResponder(ctx, identityHash, params, initiatorSigBytes, domain, params.Nonce)
	})
}

// ChanUpdate drives a direct Update: replace an installed app's state at
// a strictly higher version.
func (e *Engine) ChanUpdate(multisig common.Address, identityHash common.Hash, peerIdentifier, processID string, seq uint64,
	newState []byte, newVersionNumber, timeout uint64, params *wire.UpdateParams, initiatorSigBytes []byte) (*protocol.Result, *Error) {

	return e.drive(wire.ProtocolUpdate, multisig, peerIdentifier, processID, seq, func(ctx protocol.Context) protocol.Step {
		if initiatorSigBytes == nil {
			return protocol.NewUpdateInitiator(ctx, identityHash, newState, newVersionNumber, timeout, e.params.ChallengeRegistry)
		}
		return protocol.NewUpdateResponder(ctx, params, initiatorSigBytes, e.params.ChallengeRegistry)
	})
}

// ChanTakeAction drives TakeAction: compute the app-defined post-state
// for action via the EVM provider, then exchange signatures over it.
func (e *Engine) ChanTakeAction(ctx context.Context, multisig common.Address, identityHash common.Hash,
	peerIdentifier, processID string, seq uint64, action []byte,
	params *wire.TakeActionParams, initiatorSigBytes []byte) (*protocol.Result, *Error) {

	release := e.locks.Acquire(multisig)
	defer release()

	c, err := e.store.LoadChannel(multisig)
	if err != nil {
		return nil, &Error{Code: "NotFound", Message: err.Error()}
	}
	snap, err := channeldb.Capture(e.store, multisig)
	if err != nil {
		return nil, &Error{Code: "StoreError", Message: err.Error()}
	}

	pctx := e.newContext(c, peerIdentifier, processID, seq)

	var step protocol.Step
	if initiatorSigBytes == nil {
		step = protocol.NewTakeActionInitiator(ctx, pctx, e.chain, identityHash, action, e.params.ChallengeRegistry)
	} else {
		step = protocol.NewTakeActionResponder(ctx, pctx, e.chain, params, initiatorSigBytes, e.params.ChallengeRegistry)
	}

	result, perr := e.runner().Drive(ctx, step)
	if perr != nil {
		metrics.ObserveResult(wire.ProtocolTakeAction, perr)
		metrics.ObserveFailure(wire.ProtocolTakeAction, perr.Code.String())
		if revertErr := channeldb.Revert(e.store, snap); revertErr != nil {
			return nil, &Error{Code: "StoreError",
				Message: fmt.Sprintf("%v (revert also failed: %v)", perr, revertErr)}
		}
		return nil, fromProtocolError(perr)
	}
	metrics.ObserveResult(wire.ProtocolTakeAction, nil)
	return result, nil
}

// ChanUninstall drives Uninstall: remove an installed app and credit the
// free balance per its final redistribution.
func (e *Engine) ChanUninstall(multisig common.Address, identityHash common.Hash, peerIdentifier, processID string, seq uint64,
	params *wire.UninstallParams, initiatorSigBytes []byte) (*protocol.Result, *Error) {

	return e.drive(wire.ProtocolUninstall, multisig, peerIdentifier, processID, seq, func(ctx protocol.Context) protocol.Step {
		if initiatorSigBytes == nil {
			return protocol.NewUninstallInitiator(ctx, identityHash, params, e.params.ChallengeRegistry)
		}
		return protocol.NewUninstallResponder(ctx, identityHash, params, initiatorSigBytes, e.params.ChallengeRegistry)
	})
}

// ChanGetState returns the current snapshot for a multisig address.
func (e *Engine) ChanGetState(multisig common.Address) (statechannel.Channel, *Error) {
	c, err := e.store.LoadChannel(multisig)
	if err != nil {
		return statechannel.Channel{}, &Error{Code: "NotFound", Message: err.Error()}
	}
	return c, nil
}

// ChanGetAppInstance returns a single installed app by identity hash.
func (e *Engine) ChanGetAppInstance(multisig common.Address, identityHash common.Hash) (statechannel.AppInstance, *Error) {
	c, err := e.store.LoadChannel(multisig)
	if err != nil {
		return statechannel.AppInstance{}, &Error{Code: "NotFound", Message: err.Error()}
	}
	app, ok := c.App(identityHash)
	if !ok {
		return statechannel.AppInstance{}, &Error{Code: "NotFound", Message: "app instance not found"}
	}
	return app, nil
}

// ChanWithdraw builds a Withdraw commitment against the multisig's
// current free balance, exchanges signatures synchronously with the
// peer over the bus, and returns the broadcast-ready transaction. Unlike
// the six Step-driven protocols, a withdrawal is a one-shot exchange
// outside protocol.Runner: it doesn't mutate channel state (the free
// balance was already debited by whichever Uninstall or direct transfer
// authorized it), so there's nothing for the runner's PERSIST step to
// write back.
func (e *Engine) ChanWithdraw(ctx context.Context, multisig common.Address, peerIdentifier, processID string, seq uint64,
	token, recipient common.Address, amount *big.Int) (evmchain.MinimalTransaction, *Error) {

	domain, ok := e.DomainFor(multisig)
	if !ok {
		return evmchain.MinimalTransaction{}, &Error{Code: "InvariantViolation", Message: "engine: withdraw before setup negotiated a domain"}
	}
	nonce := e.NextNonce(multisig)

	params := &wire.WithdrawParams{Token: token, Recipient: recipient, Amount: amount, Nonce: nonce}

	wc, digest, err := e.buildWithdrawCommitment(multisig, domain, params)
	if err != nil {
		return evmchain.MinimalTransaction{}, err
	}

	mine, signErr := e.keys.Sign(digest, nil)
	if signErr != nil {
		return evmchain.MinimalTransaction{}, &Error{Code: "ChainError", Message: signErr.Error()}
	}

	env, envErr := wire.NewEnvelope(processID, seq, peerIdentifier, e.localIdentifier, params)
	if envErr != nil {
		return evmchain.MinimalTransaction{}, &Error{Code: "InvariantViolation", Message: envErr.Error()}
	}
	env.CustomData.Signature = mine.OnChainBytes()

	reply, waitErr := e.bus.SendAndWait(ctx, peerIdentifier, env)
	if waitErr != nil {
		return evmchain.MinimalTransaction{}, &Error{Code: "Timeout", Message: waitErr.Error()}
	}

	theirs, sigErr := commitment.SignatureFromOnChainBytes(reply.CustomData.Signature)
	if sigErr != nil {
		return evmchain.MinimalTransaction{}, &Error{Code: "SignatureMismatch", Message: sigErr.Error()}
	}
	if err := wc.AddSignatures(mine, theirs); err != nil {
		return evmchain.MinimalTransaction{}, &Error{Code: "SignatureMismatch", Message: err.Error()}
	}

	return wc.GetSignedTransaction()
}

// handleWithdrawEnvelope is the responder's half of ChanWithdraw,
// invoked from HandleEnvelope: recompute the same commitment from the
// inbound params (including the initiator-chosen nonce), verify and
// countersign, and reply.
func (e *Engine) handleWithdrawEnvelope(ctx context.Context, multisig common.Address, env *wire.Envelope, params *wire.WithdrawParams) *Error {
	domain, ok := e.DomainFor(multisig)
	if !ok {
		return &Error{Code: "InvariantViolation", Message: "engine: withdraw before setup negotiated a domain"}
	}
	e.observeNonce(multisig, params.Nonce)

	wc, digest, err := e.buildWithdrawCommitment(multisig, domain, params)
	if err != nil {
		return err
	}

	theirs, sigErr := commitment.SignatureFromOnChainBytes(env.CustomData.Signature)
	if sigErr != nil {
		return &Error{Code: "SignatureMismatch", Message: sigErr.Error()}
	}
	if _, verErr := commitment.OrderSignatures(digest, []commitment.Signature{theirs}, wc.Owners); verErr != nil {
		return &Error{Code: "SignatureMismatch", Message: verErr.Error()}
	}

	mine, signErr := e.keys.Sign(digest, nil)
	if signErr != nil {
		return &Error{Code: "ChainError", Message: signErr.Error()}
	}
	if err := wc.AddSignatures(mine, theirs); err != nil {
		return &Error{Code: "SignatureMismatch", Message: err.Error()}
	}

	reply, envErr := wire.NewEnvelope(env.ProcessID, env.Seq, env.FromIdentifier, e.localIdentifier, params)
	if envErr != nil {
		return &Error{Code: "InvariantViolation", Message: envErr.Error()}
	}
	reply.CustomData.Signature = mine.OnChainBytes()

	if sendErr := e.bus.Send(ctx, env.FromIdentifier, reply); sendErr != nil {
		return &Error{Code: "ChainError", Message: sendErr.Error()}
	}
	return nil
}

func (e *Engine) buildWithdrawCommitment(multisig common.Address, domain protocol.MultisigDomain,
	params *wire.WithdrawParams) (*commitment.WithdrawCommitment, common.Hash, *Error) {

	c, err := e.store.LoadChannel(multisig)
	if err != nil {
		return nil, common.Hash{}, &Error{Code: "NotFound", Message: err.Error()}
	}

	wc, err := commitment.NewWithdrawCommitment(multisig, c.MultisigOwners[:], params.Token, params.Recipient, params.Amount,
		domain.DomainName, domain.DomainVersion, domain.ChainID, domain.Salt, params.Nonce)
	if err != nil {
		return nil, common.Hash{}, &Error{Code: "InvariantViolation", Message: err.Error()}
	}

	digest, err := wc.HashToSign()
	if err != nil {
		return nil, common.Hash{}, &Error{Code: "InvariantViolation", Message: err.Error()}
	}
	return wc, digest, nil
}

// HandleEnvelope is the responder-side dispatch entry point a Transport's
// read loop calls for an unsolicited inbound envelope (one that doesn't
// match any local SendAndWait): it decodes env's params, runs the
// matching protocol's responder half against multisig, and lets that
// responder's own Send step carry the reply back out over the bus.
// multisig identifies which channel this envelope concerns; a production
// transport resolves it from the identityHash or multisig address
// embedded in env's params before calling HandleEnvelope.
func (e *Engine) HandleEnvelope(ctx context.Context, multisig common.Address, env *wire.Envelope) *Error {
	rawParams, err := env.DecodeParams()
	if err != nil {
		return &Error{Code: "InvariantViolation", Message: err.Error()}
	}

	switch p := rawParams.(type) {
	case *wire.SetupParams:
		_, perr := e.ChanSetup(multisig, env.FromIdentifier, env.ProcessID, env.Seq, p, env.CustomData.Signature)
		return perr

	case *wire.ProposeParams:
		_, perr := e.ChanProposeInstall(multisig, env.FromIdentifier, env.ProcessID, env.Seq, p, env.CustomData.Signature)
		return perr

	case *wire.InstallParams:
		_, perr := e.ChanInstall(multisig, p.IdentityHash, env.FromIdentifier, env.ProcessID, env.Seq,
			p, env.CustomData.Signature)
		return perr

	case *wire.UpdateParams:
		_, perr := e.ChanUpdate(multisig, p.IdentityHash, env.FromIdentifier, env.ProcessID, env.Seq,
			nil, 0, 0, p, env.CustomData.Signature)
		return perr

	case *wire.TakeActionParams:
		_, perr := e.ChanTakeAction(ctx, multisig, p.IdentityHash, env.FromIdentifier, env.ProcessID, env.Seq,
			nil, p, env.CustomData.Signature)
		return perr

	case *wire.UninstallParams:
		_, perr := e.ChanUninstall(multisig, p.IdentityHash, env.FromIdentifier, env.ProcessID, env.Seq,
			p, env.CustomData.Signature)
		return perr

	case *wire.WithdrawParams:
		return e.handleWithdrawEnvelope(ctx, multisig, env, p)

	default:
		return &Error{Code: "InvariantViolation", Message: fmt.Sprintf("engine: no responder dispatch for %T", rawParams)}
	}
}
