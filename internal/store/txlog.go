package store

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// TxLogRecord is the database model for one on-chain write an instance
// submitted: varchar-encoded big.Int, indexed timestamp, explicit
// TableName, the append-only row shape for a transaction log.
type TxLogRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	InstanceID string    `gorm:"type:varchar(36);index;not null"`
	TxHash     string    `gorm:"type:varchar(66);index;not null"`
	Kind       string    `gorm:"type:varchar(32);not null;comment:approve|mint|decrease|collect|burn|multicall|swap"`
	Status     string    `gorm:"type:varchar(16);not null"`
	GasCost    string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	Stage      string    `gorm:"type:varchar(32);not null"`
	CreatedAt  time.Time `gorm:"index;autoCreateTime"`
}

// TableName pins the table name instead of letting GORM pluralize the Go
// type name.
func (TxLogRecord) TableName() string {
	return "tx_log"
}

// SwapLogRecord is the database model for one aggregator swap an instance
// executed, kept as a distinct table from TxLogRecord since a swap carries
// token-pair and amount fields a generic tx record does not.
type SwapLogRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	InstanceID string    `gorm:"type:varchar(36);index;not null"`
	TxHash     string    `gorm:"type:varchar(66);index;not null"`
	TokenIn    string    `gorm:"type:varchar(42);not null"`
	TokenOut   string    `gorm:"type:varchar(42);not null"`
	AmountIn   string    `gorm:"type:varchar(78);not null"`
	AmountOut  string    `gorm:"type:varchar(78);not null"`
	ExecutedAt time.Time `gorm:"index"`
}

func (SwapLogRecord) TableName() string {
	return "swap_log"
}

// TxLog is the append-only MySQL-backed transaction/swap history, kept
// alongside Store's JSON snapshots.
type TxLog struct {
	db *gorm.DB
}

// NewTxLog opens (and migrates) a MySQL-backed TxLog. dsn format:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func NewTxLog(dsn string) (*TxLog, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("txlog: connecting to MySQL: %w", err)
	}
	return NewTxLogWithDB(db)
}

// NewTxLogWithDB wraps an already-open GORM DB, migrating the tx/swap log
// tables into it.
func NewTxLogWithDB(db *gorm.DB) (*TxLog, error) {
	if err := db.AutoMigrate(&TxLogRecord{}, &SwapLogRecord{}); err != nil {
		return nil, fmt.Errorf("txlog: migrating schema: %w", err)
	}
	return &TxLog{db: db}, nil
}

// AppendTx durably records a TxRecord. Callers must complete this before
// advancing the state machine past the stage that produced the transaction.
func (l *TxLog) AppendTx(instanceID uuid.UUID, tx strategy.TxRecord) error {
	record := TxLogRecord{
		InstanceID: instanceID.String(),
		TxHash:     tx.TxHash,
		Kind:       tx.Kind,
		Status:     tx.Status,
		GasCost:    bigIntToString(tx.GasCost),
		Stage:      string(tx.Stage),
	}
	if result := l.db.Create(&record); result.Error != nil {
		return fmt.Errorf("txlog: appending tx %s: %w", tx.TxHash, result.Error)
	}
	return nil
}

// AppendSwap durably records a SwapRecord.
func (l *TxLog) AppendSwap(instanceID uuid.UUID, swap strategy.SwapRecord) error {
	record := SwapLogRecord{
		InstanceID: instanceID.String(),
		TxHash:     swap.TxHash,
		TokenIn:    swap.TokenIn,
		TokenOut:   swap.TokenOut,
		AmountIn:   bigIntToString(swap.AmountIn),
		AmountOut:  bigIntToString(swap.AmountOut),
		ExecutedAt: swap.ExecutedAt,
	}
	if result := l.db.Create(&record); result.Error != nil {
		return fmt.Errorf("txlog: appending swap %s: %w", swap.TxHash, result.Error)
	}
	return nil
}

// TxsForInstance returns every recorded transaction for instanceID, oldest
// first.
func (l *TxLog) TxsForInstance(instanceID uuid.UUID) ([]TxLogRecord, error) {
	var records []TxLogRecord
	result := l.db.Where("instance_id = ?", instanceID.String()).Order("created_at ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("txlog: reading txs for %s: %w", instanceID, result.Error)
	}
	return records, nil
}

// SwapsForInstance returns every recorded swap for instanceID, oldest first.
func (l *TxLog) SwapsForInstance(instanceID uuid.UUID) ([]SwapLogRecord, error) {
	var records []SwapLogRecord
	result := l.db.Where("instance_id = ?", instanceID.String()).Order("executed_at ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("txlog: reading swaps for %s: %w", instanceID, result.Error)
	}
	return records, nil
}

// Close closes the underlying database connection.
func (l *TxLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("txlog: getting underlying DB: %w", err)
	}
	return sqlDB.Close()
}

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
