// Package wire implements the peer message envelope exchanged between two
// engine instances, and the typed parameter payloads for each protocol.
// Transport and bus subject routing are the caller's concern; this package
// only defines the shapes and their JSON encoding.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
)

// ProtocolType names one of the six protocols a message belongs to.
type ProtocolType uint16

const (
	ProtocolSetup ProtocolType = iota + 1
	ProtocolPropose
	ProtocolInstall
	ProtocolUpdate
	ProtocolTakeAction
	ProtocolUninstall
	ProtocolWithdraw
)

func (p ProtocolType) String() string {
	switch p {
	case ProtocolSetup:
		return "setup"
	case ProtocolPropose:
		return "propose"
	case ProtocolInstall:
		return "install"
	case ProtocolUpdate:
		return "update"
	case ProtocolTakeAction:
		return "takeAction"
	case ProtocolUninstall:
		return "uninstall"
	case ProtocolWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(p))
	}
}

// UnknownProtocol mirrors the teacher's UnknownMessage: an error in
// response to a protocol type this version doesn't recognize.
type UnknownProtocol struct {
	Type ProtocolType
}

func (u *UnknownProtocol) Error() string {
	return fmt.Sprintf("wire: unknown protocol type %v", u.Type)
}

// CustomData carries the signature accompanying this round's params plus
// any protocol-specific extension fields that don't warrant their own
// top-level envelope field.
type CustomData struct {
	Signature  []byte          `json:"signature,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`
}

// Envelope is the wire format every peer message shares. Params is kept
// as raw JSON and decoded into the concrete protocol param type via
// DecodeParams/the MessageType registry below, mirroring how the
// teacher's lnwire dispatches MessageType to a concrete Message value
// before Decode is called on it.
type Envelope struct {
	ProcessID      string          `json:"processID"`
	Protocol       ProtocolType    `json:"protocol"`
	Seq            uint64          `json:"seq"`
	ToIdentifier   string          `json:"toIdentifier"`
	FromIdentifier string          `json:"fromIdentifier"`
	Params         json.RawMessage `json:"params"`
	CustomData     CustomData      `json:"customData,omitempty"`

	// PrevMessageReceived is optional timing telemetry: the timestamp at
	// which this party received the message it is now replying to.
	PrevMessageReceived *time.Time `json:"prevMessageReceived,omitempty"`
}

// Params is implemented by every protocol-specific payload type.
type Params interface {
	ProtocolType() ProtocolType
}

// makeEmptyParams returns a zero-value Params of the concrete type
// matching t, ready to be the target of json.Unmarshal. Ported from the
// teacher's makeEmptyMessage dispatch in lnwire/message.go.
func makeEmptyParams(t ProtocolType) (Params, error) {
	switch t {
	case ProtocolSetup:
		return &SetupParams{}, nil
	case ProtocolPropose:
		return &ProposeParams{}, nil
	case ProtocolInstall:
		return &InstallParams{}, nil
	case ProtocolUpdate:
		return &UpdateParams{}, nil
	case ProtocolTakeAction:
		return &TakeActionParams{}, nil
	case ProtocolUninstall:
		return &UninstallParams{}, nil
	case ProtocolWithdraw:
		return &WithdrawParams{}, nil
	default:
		return nil, &UnknownProtocol{Type: t}
	}
}

// NewEnvelope encodes params into an Envelope ready to send.
func NewEnvelope(processID string, seq uint64, to, from string, params Params) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal params: %w", err)
	}
	return &Envelope{
		ProcessID:      processID,
		Protocol:       params.ProtocolType(),
		Seq:            seq,
		ToIdentifier:   to,
		FromIdentifier: from,
		Params:         raw,
	}, nil
}

// DecodeParams decodes the envelope's Params field into the concrete type
// registered for its Protocol.
func (e *Envelope) DecodeParams() (Params, error) {
	target, err := makeEmptyParams(e.Protocol)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(e.Params, target); err != nil {
		return nil, goerrors.WrapPrefix(err, fmt.Sprintf("wire: decode params for %v", e.Protocol), 0)
	}
	return target, nil
}
