// Package extract pulls created-object identifiers out of transaction
// metadata. Nodes report the created object either as a top-level
// CreatedNode (one object or a list) or wrapped in AffectedNodes.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultKey is the NewFields key holding an issuance identifier.
const DefaultKey = "MPTokenIssuanceID"

// CreatedNode is a ledger object created by the transaction.
type CreatedNode struct {
	LedgerEntryType string                     `json:"LedgerEntryType"`
	LedgerIndex     string                     `json:"LedgerIndex"`
	NewFields       map[string]json.RawMessage `json:"NewFields"`
}

// AffectedNode is one entry of AffectedNodes. Exactly one member is set.
type AffectedNode struct {
	CreatedNode  *CreatedNode    `json:"CreatedNode,omitempty"`
	ModifiedNode json.RawMessage `json:"ModifiedNode,omitempty"`
	DeletedNode  json.RawMessage `json:"DeletedNode,omitempty"`
}

// createdNodes decodes a CreatedNode given as an object or as an array.
type createdNodes []CreatedNode

func (c *createdNodes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*c = nil
		return nil
	case b[0] == '[':
		var list []CreatedNode
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*c = list
		return nil
	default:
		var one CreatedNode
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*c = createdNodes{one}
		return nil
	}
}

// Meta is the subset of transaction metadata the extractor reads.
type Meta struct {
	TransactionResult string         `json:"TransactionResult"`
	CreatedNode       createdNodes   `json:"CreatedNode"`
	AffectedNodes     []AffectedNode `json:"AffectedNodes"`
}

// Parse decodes raw metadata.
func Parse(raw []byte) (*Meta, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("extract: empty metadata")
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return &m, nil
}

// Extract returns the DefaultKey value from raw metadata.
func Extract(raw []byte) (*string, error) {
	return ExtractKey(raw, DefaultKey)
}

// ExtractKey looks up key in top-level created nodes first, then in nodes
// wrapped by AffectedNodes. The first match wins. A well-formed document
// without the key returns (nil, nil).
func ExtractKey(raw []byte, key string) (*string, error) {
	m, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return m.Find(key), nil
}

// Find applies the two-step lookup to decoded metadata.
func (m *Meta) Find(key string) *string {
	for i := range m.CreatedNode {
		if v, ok := stringField(m.CreatedNode[i].NewFields, key); ok {
			return &v
		}
	}
	for _, n := range m.AffectedNodes {
		if n.CreatedNode == nil {
			continue
		}
		if v, ok := stringField(n.CreatedNode.NewFields, key); ok {
			return &v
		}
	}
	return nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
