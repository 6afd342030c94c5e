package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/pkg/database"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(database.NewWithConn(db, nil)), mock
}

func TestOpenPositionReturnsGeneratedID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO positions").
		WithArgs("0xwallet", "aave", "aave-pool", "USDC", "1000", "1000", "3", "3", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.OpenPosition(context.Background(), Position{
		Wallet: "0xwallet", ProtocolID: "aave", PoolID: "aave-pool", Token: "USDC",
		Amount: decimal.NewFromInt(1000), USDValue: decimal.NewFromInt(1000),
		EntryAPY: decimal.NewFromInt(3), CurrentAPY: decimal.NewFromInt(3), OpenedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosePositionFailsWhenNoActiveRowMatched(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE positions SET status='closed'").
		WithArgs("0xwallet", "aave", "aave-pool", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ClosePosition(context.Background(), "0xwallet", "aave", "aave-pool", time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivePositionsScansDecimalColumns(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "wallet", "protocol_id", "pool_id", "token", "amount", "usd_value", "entry_apy", "current_apy", "status", "opened_at", "closed_at"}).
		AddRow(int64(1), "0xwallet", "aave", "aave-pool", "USDC", "1000", "1000", "3", "3", "active", time.Now(), nil)
	mock.ExpectQuery("SELECT .* FROM positions WHERE wallet=\\$1 AND status='active'").
		WithArgs("0xwallet").
		WillReturnRows(rows)

	positions, err := s.ActivePositions(context.Background(), "0xwallet")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Amount.Equal(decimal.NewFromInt(1000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTickSummaryBindsErrorsAsArrayParameter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO tick_summaries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.RecordTickSummary(context.Background(), TickSummary{
		TickID: "tick-1", StartedAt: time.Now(), FinishedAt: time.Now(),
		OpportunitiesSeen: 4, RecommendationsN: 2, RebalancesRun: 1,
		Errors: []string{"pool paused"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmTransactionFailsWhenHashUnknown(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE pending_transactions SET confirmed=true").
		WithArgs("0xdeadbeef").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ConfirmTransaction(context.Background(), "0xdeadbeef")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
