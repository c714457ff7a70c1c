package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "trustmint/pkg/domain"
	audit "trustmint/pkg/platform/audit"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestStore_Append(t *testing.T) {
	t.Run("keys by user id and encodes payload", func(t *testing.T) {
		producer := &recordingProducer{}
		store := New(producer, "audit.events")
		userID := id.NewUserID()

		err := store.Append(context.Background(), audit.Event{
			UserID:    userID,
			Subject:   "doc-1",
			Action:    string(audit.EventTrustLevelRaised),
			Decision:  "3",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Len(t, producer.records, 1)

		rec := producer.records[0]
		assert.Equal(t, "audit.events", rec.Topic)
		assert.Equal(t, userID.String(), string(rec.Key))

		var p payload
		require.NoError(t, json.Unmarshal(rec.Value, &p))
		assert.Equal(t, "compliance", p.Category)
		assert.Equal(t, "trust_level_raised", p.Action)
		assert.Equal(t, "2026-01-01T00:00:00Z", p.Timestamp)
	})

	t.Run("keys by subject without user", func(t *testing.T) {
		producer := &recordingProducer{}
		store := New(producer, "audit.events")

		require.NoError(t, store.Append(context.Background(), audit.Event{
			Subject: "ABCDEF",
			Action:  string(audit.EventAssetIssued),
		}))
		assert.Equal(t, "ABCDEF", string(producer.records[0].Key))
	})

	t.Run("broker error is returned", func(t *testing.T) {
		producer := &recordingProducer{err: errors.New("leader not available")}
		store := New(producer, "audit.events")

		err := store.Append(context.Background(), audit.Event{Subject: "x", Action: "y"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "leader not available")
	})
}
