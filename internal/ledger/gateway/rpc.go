package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// flexUint accepts numbers that nodes send either as JSON numbers or as
// decimal strings.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("not an unsigned integer: %s", b)
	}
	*f = flexUint(n)
	return nil
}

type request map[string]any

type response struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
	Result       json.RawMessage `json:"result"`
}

// rpcError is a node-level error response such as actNotFound or txnNotFound.
type rpcError struct {
	Command string
	Code    string
	Message string
}

func (e *rpcError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Code)
}

type accountInfoResult struct {
	AccountData struct {
		Sequence flexUint `json:"Sequence"`
	} `json:"account_data"`
}

type feeResult struct {
	Drops struct {
		BaseFee       flexUint `json:"base_fee"`
		OpenLedgerFee flexUint `json:"open_ledger_fee"`
	} `json:"drops"`
	LedgerCurrentIndex flexUint `json:"ledger_current_index"`
}

type serverInfoResult struct {
	Info struct {
		NetworkID flexUint `json:"network_id"`
	} `json:"info"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

type txResult struct {
	Hash        string          `json:"hash"`
	Account     string          `json:"Account"`
	Validated   bool            `json:"validated"`
	LedgerIndex flexUint        `json:"ledger_index"`
	Fee         string          `json:"Fee"`
	Sequence    flexUint        `json:"Sequence"`
	Meta        json.RawMessage `json:"meta"`
	// API v2 nests the transaction fields.
	TxJSON struct {
		Account  string   `json:"Account"`
		Fee      string   `json:"Fee"`
		Sequence flexUint `json:"Sequence"`
	} `json:"tx_json"`
}

type txMeta struct {
	TransactionResult string `json:"TransactionResult"`
}

type ledgerResult struct {
	LedgerIndex flexUint `json:"ledger_index"`
}
