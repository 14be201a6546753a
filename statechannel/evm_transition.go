package statechannel

import (
	"context"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/statechan/scnode/evmchain"
)

// applyActionSelector is keccak256("applyAction(bytes,bytes)")[:4], the
// 4-byte function selector every app definition contract exposes for its
// pure state-transition function. App definitions differ in the ABI
// schema of the *contents* of state/action, never in this entrypoint.
var applyActionSelector = crypto.Keccak256([]byte("applyAction(bytes,bytes)"))[:4]

var applyActionArgs = abi.Arguments{
	{Type: mustAbiType("bytes")},
	{Type: mustAbiType("bytes")},
}

var applyActionReturn = abi.Arguments{
	{Type: mustAbiType("bytes")},
}

func mustAbiType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ComputeStateTransition invokes the app definition's pure applyAction via
// an eth_call against the EVM provider. The engine never inspects or
// trusts the resulting state bytes beyond hashing them; decoding the
// domain-specific contents is solely the concern of whatever UI or
// middleware cares about the app.
func ComputeStateTransition(ctx context.Context, caller evmchain.ContractCaller,
	app AppInstance, action []byte) ([]byte, error) {

	calldata, err := applyActionArgs.Pack(app.LatestState, action)
	if err != nil {
		return nil, fmt.Errorf("statechannel: encode applyAction call: %w", err)
	}
	calldata = append(append([]byte{}, applyActionSelector...), calldata...)

	appDef := app.Identity.AppDefinition
	result, err := caller.CallContract(ctx, ethereum.CallMsg{
		To:   &appDef,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("statechannel: applyAction eth_call: %w", err)
	}

	values, err := applyActionReturn.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("statechannel: decode applyAction result: %w", err)
	}
	newState, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("statechannel: applyAction returned unexpected type")
	}

	return newState, nil
}
