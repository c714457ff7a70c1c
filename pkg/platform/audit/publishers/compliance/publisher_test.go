package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "trustmint/pkg/domain"
	audit "trustmint/pkg/platform/audit"
	"trustmint/pkg/platform/audit/store/memory"
	"trustmint/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisher_Emit(t *testing.T) {
	t.Run("fills category, timestamp and request id", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		pub := New(store)
		userID := id.NewUserID()
		now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		ctx := requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-7"), now)

		err := pub.Emit(ctx, audit.Event{UserID: userID, Action: string(audit.EventTrustLevelRaised)})
		require.NoError(t, err)

		events, err := store.ListByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.Equal(t, now, events[0].Timestamp)
		assert.Equal(t, "req-7", events[0].RequestID)
	})

	t.Run("rejects events without action", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		err := pub.Emit(context.Background(), audit.Event{Subject: "doc-1"})
		assert.Error(t, err)
	})

	t.Run("rejects events without user or subject", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventAssetIssued)})
		assert.Error(t, err)
	})

	t.Run("store failure is returned and counted", func(t *testing.T) {
		m := NewMetricsWith(prometheus.NewRegistry())
		pub := New(failingStore{}, WithMetrics(m))

		err := pub.Emit(context.Background(), audit.Event{Subject: "asset-1", Action: string(audit.EventAssetIssued)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, float64(1), testutil.ToFloat64(m.PersistFailures))
	})
}
