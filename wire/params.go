package wire

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SetupParams carries the proposed channel parameters and the inputs of
// the Setup commitment for the first round of the Setup protocol.
type SetupParams struct {
	Multisig                common.Address   `json:"multisig"`
	Owners                  []common.Address `json:"owners"`
	FreeBalanceInterpreter  common.Address   `json:"freeBalanceInterpreter"`
	FreeBalanceIdentityHash common.Hash      `json:"freeBalanceIdentityHash"`
	InterpreterParams       []byte           `json:"interpreterParams"`
	DomainName              string           `json:"domainName"`
	DomainVersion           string           `json:"domainVersion"`
	ChainID                 *big.Int         `json:"chainId"`
	DomainSalt              common.Hash      `json:"domainSalt"`
	Nonce                   uint64           `json:"nonce"`
}

func (SetupParams) ProtocolType() ProtocolType { return ProtocolSetup }

// ProposeParams carries a not-yet-installed app's identity and initial
// state for the Propose protocol.
type ProposeParams struct {
	ChannelNonce     uint64         `json:"channelNonce"`
	AppDefinition    common.Address `json:"appDefinition"`
	DefaultTimeout   uint64         `json:"defaultTimeout"`
	InitialState     []byte         `json:"initialState"`
	Token            common.Address `json:"token"`
	InitiatorAddress common.Address `json:"initiatorAddress"`
	ResponderAddress common.Address `json:"responderAddress"`
	InitiatorDeposit *big.Int       `json:"initiatorDeposit"`
	ResponderDeposit *big.Int       `json:"responderDeposit"`
}

func (ProposeParams) ProtocolType() ProtocolType { return ProtocolPropose }

// InstallParams carries the ConditionalTransaction routing and the
// resulting free balance state for the Install protocol.
type InstallParams struct {
	IdentityHash        common.Hash    `json:"identityHash"`
	InterpreterAddress  common.Address `json:"interpreterAddress"`
	EncodedOutcome      []byte         `json:"encodedOutcome"`
	InterpreterParams   []byte         `json:"interpreterParams"`
	NewFreeBalanceState []byte         `json:"newFreeBalanceState"`
	FreeBalanceVersion  uint64         `json:"freeBalanceVersion"`
	Nonce               uint64         `json:"nonce"`
}

func (InstallParams) ProtocolType() ProtocolType { return ProtocolInstall }

// UpdateParams carries a direct state replacement for an installed app.
type UpdateParams struct {
	IdentityHash  common.Hash `json:"identityHash"`
	NewState      []byte      `json:"newState"`
	VersionNumber uint64      `json:"versionNumber"`
	StateTimeout  uint64      `json:"stateTimeout"`
}

func (UpdateParams) ProtocolType() ProtocolType { return ProtocolUpdate }

// TakeActionParams carries the action whose post-image the initiator
// wants to commit as the app's next state.
type TakeActionParams struct {
	IdentityHash common.Hash `json:"identityHash"`
	Action       []byte      `json:"action"`
}

func (TakeActionParams) ProtocolType() ProtocolType { return ProtocolTakeAction }

// UninstallParams carries the final redistribution of an app's escrowed
// deposits back to the free balance.
type UninstallParams struct {
	IdentityHash       common.Hash    `json:"identityHash"`
	Token              common.Address `json:"token"`
	InitiatorAmount    *big.Int       `json:"initiatorAmount"`
	ResponderAmount    *big.Int       `json:"responderAmount"`
	FreeBalanceVersion uint64         `json:"freeBalanceVersion"`
}

func (UninstallParams) ProtocolType() ProtocolType { return ProtocolUninstall }

// WithdrawParams carries a conditional transfer out of the multisig
// directly to a recipient, independent of any installed app.
type WithdrawParams struct {
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	Nonce     uint64         `json:"nonce"`
}

func (WithdrawParams) ProtocolType() ProtocolType { return ProtocolWithdraw }
