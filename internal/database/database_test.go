package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"parisdvf/server/internal/models"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	d := NewWithDB(db, nil)
	require.NoError(t, d.RunMigrations())
	return d
}

func sampleTransactions() []models.Transaction {
	surface := 50.0
	return []models.Transaction{
		{
			IDMutation:        "m1",
			IDParcelle:        "75104000AB0001",
			DateMutation:      time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			ValeurFonciere:    600000,
			SurfaceReelleBati: &surface,
			Arrondissement:    "4",
		},
		{
			IDMutation:     "m2",
			DateMutation:   time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
			ValeurFonciere: 400000,
			Arrondissement: "16",
		},
	}
}

func TestReplaceTransactionsIsIdempotent(t *testing.T) {
	d := testDatabase(t)
	batch := sampleTransactions()

	require.NoError(t, d.ReplaceTransactions(batch))
	require.NoError(t, d.ReplaceTransactions(batch))

	count, err := d.CountTransactions()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAppendTransactionsAccumulates(t *testing.T) {
	d := testDatabase(t)
	batch := sampleTransactions()

	require.NoError(t, d.ReplaceTransactions(batch))
	require.NoError(t, d.AppendTransactions([]models.Transaction{{
		IDMutation:     "m3",
		DateMutation:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ValeurFonciere: 100000,
	}}))

	count, err := d.CountTransactions()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestReplaceTransactionsEmptyBatchClearsTable(t *testing.T) {
	d := testDatabase(t)

	require.NoError(t, d.ReplaceTransactions(sampleTransactions()))
	require.NoError(t, d.ReplaceTransactions(nil))

	count, err := d.CountTransactions()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestGetAllTransactionsNewestFirst(t *testing.T) {
	d := testDatabase(t)
	require.NoError(t, d.ReplaceTransactions(sampleTransactions()))

	txs, err := d.GetAllTransactions()
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "m1", txs[0].IDMutation)
	assert.Equal(t, "m2", txs[1].IDMutation)
}

func TestReplaceAndGetParcelles(t *testing.T) {
	d := testDatabase(t)

	valeur := 600000.0
	parcels := []models.Parcel{
		{IDParcelle: "75104000AB0001", HasTransaction: true, NbTransactions: 2, ValeurFonciere: &valeur},
		{IDParcelle: "75104000AB0002"},
	}
	require.NoError(t, d.ReplaceParcelles(parcels))

	all, err := d.GetParcelles(false, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	withTx, err := d.GetParcelles(true, 0)
	require.NoError(t, err)
	require.Len(t, withTx, 1)
	assert.Equal(t, "75104000AB0001", withTx[0].IDParcelle)
	require.NotNil(t, withTx[0].ValeurFonciere)
	assert.Equal(t, 600000.0, *withTx[0].ValeurFonciere)

	limited, err := d.GetParcelles(false, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
