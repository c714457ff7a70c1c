//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustmint/internal/issuance/models"
	"trustmint/internal/issuance/store"
	"trustmint/pkg/ids"
	"trustmint/pkg/platform/sentinel"
	"trustmint/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "token_records"))
}

func (s *PostgresStoreSuite) record(hash string) *models.TokenRecord {
	return &models.TokenRecord{
		ID:            ids.New(),
		IssuerAddress: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		Status:        models.StatusIssuedUnreconciled,
		TxHash:        hash,
		EngineResult:  "tesSUCCESS",
		LedgerIndex:   1003,
		Sequence:      7,
		FeeDrops:      "12",
		Validated:     true,
		MetadataHex:   "7B7D",
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	record := s.record("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855")
	s.Require().NoError(s.store.Save(ctx, record))

	found, err := s.store.FindByTxHash(ctx, record.TxHash)
	s.Require().NoError(err)
	s.Equal(record.ID, found.ID)
	s.Nil(found.AssetID)
	s.Equal(models.StatusIssuedUnreconciled, found.Status)
	s.True(found.CreatedAt.Equal(record.CreatedAt))
}

func (s *PostgresStoreSuite) TestDuplicateHashConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, s.record("AA")))
	s.ErrorIs(s.store.Save(ctx, s.record("AA")), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestMissing() {
	_, err := s.store.FindByID(context.Background(), ids.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
