package models

import (
	"time"
)

// Status is the reconciliation state of an issuance.
type Status string

const (
	// StatusIssued means the ledger applied the issuance and the asset id was found.
	StatusIssued Status = "issued"
	// StatusIssuedUnreconciled means the ledger applied the issuance but no
	// asset id could be extracted from the metadata.
	StatusIssuedUnreconciled Status = "issued_unreconciled"
	// StatusFailed means the transaction validated with a non-success outcome.
	StatusFailed Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusIssued, StatusIssuedUnreconciled, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// LedgerTransactionResult is what an issuance call reports back.
type LedgerTransactionResult struct {
	ID           string  `json:"id"`
	EngineResult string  `json:"engine_result"`
	TxHash       string  `json:"tx_hash"`
	LedgerIndex  uint32  `json:"ledger_index"`
	Fee          string  `json:"fee"`
	Sequence     uint32  `json:"sequence"`
	Validated    bool    `json:"validated"`
	AssetID      *string `json:"asset_id"`
	Success      bool    `json:"success"`
	Status       Status  `json:"status"`
}

// TokenRecord is the persisted form of one issuance attempt that reached
// validation.
type TokenRecord struct {
	ID            string
	IssuerAddress string
	Status        Status
	AssetID       *string
	TxHash        string
	EngineResult  string
	LedgerIndex   uint32
	Sequence      uint32
	FeeDrops      string
	Validated     bool
	MetadataHex   string
	CreatedAt     time.Time
}

// Result projects the record onto the caller-facing shape.
func (r *TokenRecord) Result() *LedgerTransactionResult {
	return &LedgerTransactionResult{
		ID:           r.ID,
		EngineResult: r.EngineResult,
		TxHash:       r.TxHash,
		LedgerIndex:  r.LedgerIndex,
		Fee:          r.FeeDrops,
		Sequence:     r.Sequence,
		Validated:    r.Validated,
		AssetID:      r.AssetID,
		Success:      r.Status != StatusFailed,
		Status:       r.Status,
	}
}
