package xrpl

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer produces signatures for one account.
type Signer interface {
	Address() string
	PublicKeyHex() string
	Sign(signingData []byte) ([]byte, error)
}

// SignedTx is a serialized, signed transaction ready for submission.
type SignedTx struct {
	Blob []byte
	Hash string
}

// BlobHex is the tx_blob submission parameter.
func (s SignedTx) BlobHex() string {
	return strings.ToUpper(hex.EncodeToString(s.Blob))
}

// Sign fills SigningPubKey and TxnSignature on a copy of tx and serializes it.
// The same inputs always produce the same blob.
func Sign(tx Tx, signer Signer) (SignedTx, error) {
	if account, ok := tx["Account"].(string); ok && account != signer.Address() {
		return SignedTx{}, fmt.Errorf("xrpl: transaction account %s does not match signer %s", account, signer.Address())
	}
	signed := make(Tx, len(tx)+2)
	for k, v := range tx {
		signed[k] = v
	}
	signed["Account"] = signer.Address()
	signed["SigningPubKey"] = signer.PublicKeyHex()
	delete(signed, "TxnSignature")

	data, err := SigningData(signed)
	if err != nil {
		return SignedTx{}, err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return SignedTx{}, fmt.Errorf("xrpl: sign: %w", err)
	}
	signed["TxnSignature"] = strings.ToUpper(hex.EncodeToString(sig))

	blob, err := Encode(signed)
	if err != nil {
		return SignedTx{}, err
	}
	id, err := Hash(blob)
	if err != nil {
		return SignedTx{}, err
	}
	return SignedTx{Blob: blob, Hash: id}, nil
}
