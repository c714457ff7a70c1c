package xrpl

import (
	"encoding/hex"
	"fmt"
	"strconv"

	binarycodec "github.com/Peersyst/xrpl-go/binary-codec"
	"github.com/Peersyst/xrpl-go/binary-codec/definitions"
	"github.com/Peersyst/xrpl-go/xrpl/hash"
)

// Tx is a transaction in its JSON form, keyed by field name.
type Tx map[string]any

// decimalUInt64 marks UInt64 fields whose JSON form is a decimal string. The
// binary codec reads every UInt64 string as hex.
var decimalUInt64 = map[string]bool{
	"MaximumAmount": true,
}

// Encode serializes every field of tx in canonical order.
func Encode(tx Tx) ([]byte, error) {
	fields, err := codecFields(tx)
	if err != nil {
		return nil, err
	}
	out, err := binarycodec.Encode(fields)
	if err != nil {
		return nil, fmt.Errorf("xrpl: encode: %w", err)
	}
	return hex.DecodeString(out)
}

// SigningData is what a single signature covers: the signing prefix followed
// by the signing fields of tx.
func SigningData(tx Tx) ([]byte, error) {
	fields, err := codecFields(tx)
	if err != nil {
		return nil, err
	}
	out, err := binarycodec.EncodeForSigning(fields)
	if err != nil {
		return nil, fmt.Errorf("xrpl: encode for signing: %w", err)
	}
	return hex.DecodeString(out)
}

// Hash is the transaction id of a signed blob, uppercase hex.
func Hash(blob []byte) (string, error) {
	id, err := hash.SignTxBlob(hex.EncodeToString(blob))
	if err != nil {
		return "", fmt.Errorf("xrpl: hash: %w", err)
	}
	return id, nil
}

// codecFields copies tx into the forms the binary codec expects. Unknown
// field names are an error here because the codec would drop them silently.
func codecFields(tx Tx) (map[string]any, error) {
	defs := definitions.Get()
	out := make(map[string]any, len(tx))
	for name, v := range tx {
		if defs.Fields[name] == nil {
			return nil, fmt.Errorf("xrpl: unsupported field %q", name)
		}
		if decimalUInt64[name] {
			hexValue, err := decimalToHex(v)
			if err != nil {
				return nil, fmt.Errorf("xrpl: field %s: %w", name, err)
			}
			v = hexValue
		}
		out[name] = v
	}
	return out, nil
}

func decimalToHex(v any) (string, error) {
	var n uint64
	switch x := v.(type) {
	case string:
		parsed, err := strconv.ParseUint(x, 10, 64)
		if err != nil {
			return "", err
		}
		n = parsed
	case uint64:
		n = x
	default:
		return "", fmt.Errorf("expected a decimal string, got %T", v)
	}
	return strconv.FormatUint(n, 16), nil
}
