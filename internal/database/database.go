package database

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"parisdvf/server/internal/models"
)

const (
	transactionChunkSize = 1000
	parcelChunkSize      = 500
)

// Database is the store client handed to each pipeline stage. It owns
// the single connection pool; nothing else in the process opens one.
type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dsn string, logger *logrus.Logger) (*Database, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already-open connection. Tests use this with an
// in-memory SQLite database.
func NewWithDB(db *gorm.DB, logger *logrus.Logger) *Database {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Database{db: db, logger: logger}
}

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.Transaction{}, &models.Parcel{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Composite index for map queries; AutoMigrate only covers the
	// single-column ones declared on the models.
	err := d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_coordinates
		ON transactions(latitude, longitude)`).Error
	if err != nil {
		return fmt.Errorf("failed to create coordinates index: %w", err)
	}
	return nil
}

// truncate empties a table, resetting identities where the dialect
// supports it. SQLite (tests) falls back to DELETE.
func truncate(tx *gorm.DB, table string) error {
	if tx.Dialector.Name() == "postgres" {
		return tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", table)).Error
	}
	return tx.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error
}

// ReplaceTransactions truncates the transactions table and loads the
// batch in chunks. Re-running with the same batch leaves exactly one
// copy in place.
func (d *Database) ReplaceTransactions(txs []models.Transaction) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := truncate(tx, "transactions"); err != nil {
			return fmt.Errorf("failed to truncate transactions: %w", err)
		}
		if len(txs) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(txs, transactionChunkSize).Error; err != nil {
			return fmt.Errorf("failed to insert transactions: %w", err)
		}
		return nil
	})
}

// AppendTransactions inserts without truncating. Re-running duplicates
// rows; callers choose this mode knowingly.
func (d *Database) AppendTransactions(txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	if err := d.db.CreateInBatches(txs, transactionChunkSize).Error; err != nil {
		return fmt.Errorf("failed to insert transactions: %w", err)
	}
	return nil
}

// ReplaceParcelles truncates the parcelles table and loads the batch.
func (d *Database) ReplaceParcelles(parcels []models.Parcel) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := truncate(tx, "parcelles"); err != nil {
			return fmt.Errorf("failed to truncate parcelles: %w", err)
		}
		if len(parcels) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(parcels, parcelChunkSize).Error; err != nil {
			return fmt.Errorf("failed to insert parcelles: %w", err)
		}
		return nil
	})
}

func (d *Database) CountTransactions() (int64, error) {
	var count int64
	err := d.db.Model(&models.Transaction{}).Count(&count).Error
	return count, err
}

// GetAllTransactions loads the full table, newest mutation first. The
// query layer memoizes this for a serving session and filters in
// memory.
func (d *Database) GetAllTransactions() ([]models.Transaction, error) {
	var txs []models.Transaction
	err := d.db.Order("date_mutation DESC").Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return txs, nil
}

// GetParcelles loads parcel records, optionally only those with at
// least one associated transaction. limit <= 0 means no cap.
func (d *Database) GetParcelles(onlyWithTransaction bool, limit int) ([]models.Parcel, error) {
	q := d.db.Model(&models.Parcel{})
	if onlyWithTransaction {
		q = q.Where("has_transaction = ?", true)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var parcels []models.Parcel
	if err := q.Find(&parcels).Error; err != nil {
		return nil, fmt.Errorf("failed to load parcelles: %w", err)
	}
	return parcels, nil
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
