package relay

import (
	"context"
	"testing"

	"github.com/bondai/universal-reporter/pkg/db/models"
	"github.com/bondai/universal-reporter/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.RelayDelivery{}))
	return NewGormStore(conn)
}

func TestGormStoreRecordAndRecent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for i, domain := range []string{"example.com", "other.org", "example.com"} {
		err := store.Record(ctx, &models.RelayDelivery{
			ID:                    uuid.New(),
			RequestID:             "req",
			OriginDomain:          domain,
			IdentifierFingerprint: Fingerprint("BA" + domain),
			OfferAmount:           decimal.NewFromInt(int64(10 + i)),
			OfferSavingsAmount:    decimal.Zero,
			UpstreamStatus:        200,
			Outcome:               enums.RelayOutcomeForwarded,
		})
		require.NoError(t, err)
	}

	rows, err := store.Recent(ctx, "example.com", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "example.com", row.OriginDomain)
	}

	all, err := store.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
