// Package builder assembles MPTokenIssuanceCreate transactions.
package builder

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"trustmint/internal/ledger/xrpl"
	dErrors "trustmint/pkg/domain-errors"
)

const TransactionType = "MPTokenIssuanceCreate"

// Issuance flags.
const (
	FlagCanLock     uint32 = 0x00000002
	FlagRequireAuth uint32 = 0x00000004
	FlagCanEscrow   uint32 = 0x00000008
	FlagCanTrade    uint32 = 0x00000010
	FlagCanTransfer uint32 = 0x00000020
	FlagCanClawback uint32 = 0x00000040

	knownFlags = FlagCanLock | FlagRequireAuth | FlagCanEscrow | FlagCanTrade | FlagCanTransfer | FlagCanClawback
)

const (
	// MaxTransferFee is 50% expressed in tenths of a basis point.
	MaxTransferFee = 50000
	// MaxMetadataBytes bounds the decoded MPTokenMetadata blob.
	MaxMetadataBytes = 1024
	maxMaximumAmount = 0x7FFFFFFFFFFFFFFF
)

// Request describes one issuance. Zero values mean "leave the field off".
type Request struct {
	// Metadata is a string (UTF-8), raw bytes, json.RawMessage or any value
	// json.Marshal accepts.
	Metadata      any
	MaximumAmount string
	TransferFee   uint16
	Flags         uint32
	AssetScale    uint8
}

// Transaction is an unsigned issuance. Optional fields are nil when unset and
// absent from both the JSON and binary encodings.
type Transaction struct {
	TransactionType string  `json:"TransactionType"`
	Account         string  `json:"Account"`
	MPTokenMetadata string  `json:"MPTokenMetadata"`
	MaximumAmount   *string `json:"MaximumAmount,omitempty"`
	TransferFee     *uint16 `json:"TransferFee,omitempty"`
	Flags           *uint32 `json:"Flags,omitempty"`
	AssetScale      *uint8  `json:"AssetScale,omitempty"`
}

// Tx converts to the codec's field map.
func (t *Transaction) Tx() xrpl.Tx {
	tx := xrpl.Tx{
		"TransactionType": t.TransactionType,
		"Account":         t.Account,
		"MPTokenMetadata": t.MPTokenMetadata,
	}
	if t.MaximumAmount != nil {
		tx["MaximumAmount"] = *t.MaximumAmount
	}
	if t.TransferFee != nil {
		tx["TransferFee"] = *t.TransferFee
	}
	if t.Flags != nil {
		tx["Flags"] = *t.Flags
	}
	if t.AssetScale != nil {
		tx["AssetScale"] = *t.AssetScale
	}
	return tx
}

// NewWallet derives the issuer wallet. The seed is not retained by any
// returned value except the wallet itself.
func NewWallet(seed string) (*xrpl.Wallet, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "issuer seed is required")
	}
	w, err := xrpl.WalletFromSeed(seed)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeConfiguration, "issuer seed is malformed")
	}
	return w, nil
}

// Build validates req and returns the unsigned transaction for wallet.
func Build(wallet *xrpl.Wallet, req Request) (*Transaction, error) {
	if wallet == nil {
		return nil, dErrors.New(dErrors.CodeConfiguration, "issuer wallet is required")
	}
	metadata, err := EncodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		TransactionType: TransactionType,
		Account:         wallet.Address(),
		MPTokenMetadata: metadata,
	}

	if req.MaximumAmount != "" {
		n, err := strconv.ParseUint(req.MaximumAmount, 10, 64)
		if err != nil || n > maxMaximumAmount {
			return nil, dErrors.New(dErrors.CodeConfiguration, "maximum amount must be a decimal integer below 2^63")
		}
		amount := strconv.FormatUint(n, 10)
		tx.MaximumAmount = &amount
	}
	if req.Flags&^knownFlags != 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown issuance flags 0x%08X", req.Flags&^knownFlags))
	}
	if req.Flags != 0 {
		flags := req.Flags
		tx.Flags = &flags
	}
	if req.TransferFee > 0 {
		if req.TransferFee > MaxTransferFee {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("transfer fee %d exceeds %d", req.TransferFee, MaxTransferFee))
		}
		if req.Flags&FlagCanTransfer == 0 {
			return nil, dErrors.New(dErrors.CodeConfiguration, "transfer fee requires the can-transfer flag")
		}
		fee := req.TransferFee
		tx.TransferFee = &fee
	}
	if req.AssetScale != 0 {
		scale := req.AssetScale
		tx.AssetScale = &scale
	}
	return tx, nil
}

// EncodeMetadata renders metadata as the uppercase hex blob the ledger stores.
func EncodeMetadata(metadata any) (string, error) {
	var raw []byte
	switch v := metadata.(type) {
	case nil:
		return "", dErrors.New(dErrors.CodeConfiguration, "metadata is required")
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeConfiguration, "metadata is not serializable")
		}
		raw = b
	}
	if len(raw) == 0 {
		return "", dErrors.New(dErrors.CodeConfiguration, "metadata is required")
	}
	if len(raw) > MaxMetadataBytes {
		return "", dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("metadata is %d bytes, limit is %d", len(raw), MaxMetadataBytes))
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}
