// Package gatewaytest runs an in-process WebSocket server that answers the
// node commands the gateway issues.
package gatewaytest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Node is a scriptable fake ledger node. Configure fields before Serve.
type Node struct {
	mu sync.Mutex

	NetworkID     uint64
	OpenLedgerFee string
	CurrentLedger uint64
	SubmitResult  string
	// ValidateAfter is the number of tx polls after each submit answered as
	// pending before the transaction validates. Negative never validates.
	ValidateAfter  int
	TxResult       string
	Meta           map[string]any
	ValidatedIndex func(poll int) uint64
	AccountMissing bool
	OnSubmit       func()
	// Account is echoed in validated tx responses.
	Account string
	// Errors queues node error codes per command; each request pops one
	// before the command is answered normally.
	Errors map[string][]string
	// Silent lists commands the node reads but never answers.
	Silent map[string]bool
	// DropOn closes the connection when this command arrives.
	DropOn string

	blobs   []string
	txPolls int
	closed  int
}

// NewNode returns a node that validates a successful transaction on the
// second tx poll.
func NewNode() *Node {
	return &Node{
		OpenLedgerFee: "10",
		CurrentLedger: 1000,
		SubmitResult:  "tesSUCCESS",
		ValidateAfter: 1,
		TxResult:      "tesSUCCESS",
		Account:       "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		ValidatedIndex: func(int) uint64 {
			return 999
		},
	}
}

// CreatedIssuanceMeta is a metadata document with a top-level created node.
func CreatedIssuanceMeta(issuanceID string) map[string]any {
	return map[string]any{
		"CreatedNode": map[string]any{
			"LedgerEntryType": "MPTokenIssuance",
			"NewFields":       map[string]any{"MPTokenIssuanceID": issuanceID},
		},
	}
}

// Serve starts the node and returns its ws:// URL. The server stops with t.
func (n *Node) Serve(t testing.TB) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			n.mu.Lock()
			n.closed++
			n.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if n.drops(req) {
				return
			}
			resp := n.respond(req)
			if resp == nil {
				continue
			}
			// Stream traffic the client must skip.
			_ = conn.WriteJSON(map[string]any{"type": "ledgerClosed", "ledger_index": 1})
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// Blobs returns every submitted tx_blob.
func (n *Node) Blobs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.blobs...)
}

// Polls returns the number of tx lookups served since the last submit.
func (n *Node) Polls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.txPolls
}

// Closed returns the number of connections the node saw end.
func (n *Node) Closed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *Node) drops(req map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.DropOn != "" && req["command"] == n.DropOn
}

func (n *Node) respond(req map[string]any) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()

	ok := func(result map[string]any) map[string]any {
		return map[string]any{"id": req["id"], "type": "response", "status": "success", "result": result}
	}
	fail := func(code string) map[string]any {
		return map[string]any{"id": req["id"], "type": "response", "status": "error", "error": code}
	}

	command, _ := req["command"].(string)
	if n.Silent[command] {
		return nil
	}
	if queued := n.Errors[command]; len(queued) > 0 {
		n.Errors[command] = queued[1:]
		return fail(queued[0])
	}

	switch command {
	case "account_info":
		if n.AccountMissing {
			return fail("actNotFound")
		}
		return ok(map[string]any{"account_data": map[string]any{"Sequence": 7}})
	case "fee":
		return ok(map[string]any{
			"drops":                map[string]any{"base_fee": "10", "open_ledger_fee": n.OpenLedgerFee},
			"ledger_current_index": n.CurrentLedger,
		})
	case "server_info":
		info := map[string]any{}
		if n.NetworkID > 0 {
			info["network_id"] = n.NetworkID
		}
		return ok(map[string]any{"info": info})
	case "submit":
		blob, _ := req["tx_blob"].(string)
		n.blobs = append(n.blobs, blob)
		n.txPolls = 0
		if n.OnSubmit != nil {
			n.OnSubmit()
		}
		return ok(map[string]any{"engine_result": n.SubmitResult, "engine_result_message": "preliminary"})
	case "ledger":
		return ok(map[string]any{"ledger_index": n.ValidatedIndex(n.txPolls)})
	case "tx":
		n.txPolls++
		hash, _ := req["transaction"].(string)
		if n.ValidateAfter < 0 || n.txPolls <= n.ValidateAfter {
			if n.txPolls == 1 {
				return fail("txnNotFound")
			}
			return ok(map[string]any{"hash": hash, "validated": false})
		}
		meta := map[string]any{}
		for k, v := range n.Meta {
			meta[k] = v
		}
		meta["TransactionResult"] = n.TxResult
		return ok(map[string]any{
			"hash":         hash,
			"Account":      n.Account,
			"validated":    true,
			"ledger_index": "1003",
			"Fee":          "12",
			"Sequence":     7,
			"meta":         meta,
		})
	}
	return fail("unknownCmd")
}
