package wire

import (
	"bytes"

	"github.com/lightningnetwork/lnd/tlv"
)

// abiEncodingsType is the TLV type for the Propose protocol's optional
// ABI-fragment hint: the app definition's latestState/action ABI so the
// responder can independently decode InitialState for logging without
// trusting the initiator's prose description of it. Purely additive —
// a responder that doesn't understand this record ignores it.
const abiEncodingsType tlv.Type = 0

// EncodeAbiEncodingsHint packs an opaque ABI-fragment blob into the TLV
// stream stored in CustomData.Extensions.
func EncodeAbiEncodingsHint(abiFragment []byte) ([]byte, error) {
	record := tlv.MakeStaticRecord(
		abiEncodingsType, &abiFragment, uint64(len(abiFragment)),
		tlv.EVarBytes, tlv.DVarBytes,
	)
	stream, err := tlv.NewStream(record)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeAbiEncodingsHint extracts the ABI-fragment hint from a TLV stream
// previously produced by EncodeAbiEncodingsHint. Returns (nil, nil) if
// the record isn't present — the hint is always optional.
func DecodeAbiEncodingsHint(extensions []byte) ([]byte, error) {
	if len(extensions) == 0 {
		return nil, nil
	}

	var abiFragment []byte
	record := tlv.MakeStaticRecord(
		abiEncodingsType, &abiFragment, 0, tlv.EVarBytes, tlv.DVarBytes,
	)
	stream, err := tlv.NewStream(record)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(bytes.NewReader(extensions))
	if err != nil {
		return nil, err
	}
	if _, ok := parsedTypes[abiEncodingsType]; !ok {
		return nil, nil
	}
	return abiFragment, nil
}
