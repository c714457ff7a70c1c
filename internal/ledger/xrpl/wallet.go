package xrpl

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	"github.com/Peersyst/xrpl-go/keypairs"
	"github.com/Peersyst/xrpl-go/pkg/crypto"
)

// KeyType names the signing algorithm a seed was generated for.
type KeyType string

const (
	KeyTypeEd25519   KeyType = "ed25519"
	KeyTypeSecp256k1 KeyType = "secp256k1"
)

var ErrInvalidSeed = errors.New("xrpl: invalid seed")

const entropyLen = addresscodec.FamilySeedLength

// algorithm is the part of the key algorithms a wallet needs. Keys and
// signatures are hex strings, messages are raw bytes held in a string.
type algorithm interface {
	Sign(msg, privKey string) (string, error)
	Validate(msg, pubKey, sig string) bool
}

// Wallet holds a key pair derived from a family seed. The seed and private
// key never leave the struct: String and LogValue expose only the address.
type Wallet struct {
	keyType    KeyType
	alg        algorithm
	address    string
	publicKey  string
	privateKey string
}

// WalletFromSeed decodes a base58 family seed ("s...") and derives the
// account key pair.
func WalletFromSeed(seed string) (*Wallet, error) {
	seed = strings.TrimSpace(seed)
	_, impl, err := addresscodec.DecodeSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	w := &Wallet{}
	switch alg := impl.(type) {
	case crypto.ED25519CryptoAlgorithm:
		w.keyType, w.alg = KeyTypeEd25519, alg
	case crypto.SECP256K1CryptoAlgorithm:
		w.keyType, w.alg = KeyTypeSecp256k1, alg
	default:
		return nil, ErrInvalidSeed
	}

	// Account index 0 is the only family member the ledger tooling uses.
	w.privateKey, w.publicKey, err = keypairs.DeriveKeypair(seed, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	w.publicKey = strings.ToUpper(w.publicKey)
	w.address, err = keypairs.DeriveClassicAddress(w.publicKey)
	if err != nil {
		return nil, fmt.Errorf("xrpl: derive address: %w", err)
	}
	return w, nil
}

// EncodeSeed is the inverse of WalletFromSeed's decoding step.
func EncodeSeed(entropy []byte, keyType KeyType) (string, error) {
	if len(entropy) != entropyLen {
		return "", fmt.Errorf("xrpl: seed entropy must be %d bytes", entropyLen)
	}
	if keyType == KeyTypeEd25519 {
		return addresscodec.EncodeSeed(entropy, crypto.ED25519())
	}
	return addresscodec.EncodeSeed(entropy, crypto.SECP256K1())
}

// Address returns the classic address of the account.
func (w *Wallet) Address() string { return w.address }

// KeyType reports the signing algorithm.
func (w *Wallet) KeyType() KeyType { return w.keyType }

// PublicKey returns the public key in ledger encoding.
func (w *Wallet) PublicKey() []byte {
	b, _ := hex.DecodeString(w.publicKey)
	return b
}

// PublicKeyHex is the SigningPubKey field value.
func (w *Wallet) PublicKeyHex() string { return w.publicKey }

// Sign signs the signing serialization of a transaction. Ed25519 signs the
// bytes directly; secp256k1 signs their SHA-512Half and returns a canonical
// DER signature.
func (w *Wallet) Sign(signingData []byte) ([]byte, error) {
	sig, err := w.alg.Sign(string(signingData), w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("xrpl: %s sign: %w", w.keyType, err)
	}
	return hex.DecodeString(sig)
}

// Verify checks sig against signingData with the wallet's public key.
func (w *Wallet) Verify(signingData, sig []byte) bool {
	return w.alg.Validate(string(signingData), w.publicKey, strings.ToUpper(hex.EncodeToString(sig)))
}

func (w *Wallet) String() string { return "xrpl.Wallet(" + w.address + ")" }

// LogValue keeps key material out of log records.
func (w *Wallet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", w.address),
		slog.String("key_type", string(w.keyType)),
	)
}
