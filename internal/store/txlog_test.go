package store

import (
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

func newMockTxLog(t *testing.T) (*TxLog, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &TxLog{db: gormDB}, mock, func() { sqlDB.Close() }
}

func TestTxLog_AppendTx(t *testing.T) {
	log, mock, cleanup := newMockTxLog(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `tx_log`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := log.AppendTx(uuid.New(), strategy.TxRecord{
		TxHash:  "0xabc",
		Kind:    "mint",
		Status:  "0x1",
		GasCost: big.NewInt(21000),
		Stage:   strategy.StageMint,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxLog_AppendSwap(t *testing.T) {
	log, mock, cleanup := newMockTxLog(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `swap_log`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := log.AppendSwap(uuid.New(), strategy.SwapRecord{
		TxHash:    "0xdef",
		TokenIn:   "0x1",
		TokenOut:  "0x2",
		AmountIn:  big.NewInt(100),
		AmountOut: big.NewInt(90),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToString(t *testing.T) {
	assert.Equal(t, "0", bigIntToString(nil))
	assert.Equal(t, "42", bigIntToString(big.NewInt(42)))
}
