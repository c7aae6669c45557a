package services

import (
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cabofitpass/backend/internal/config"
)

// 12:00 UTC, outside both default peak bands.
var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func testCreditsConfig(t *testing.T) config.CreditsConfig {
	t.Helper()
	bands, err := config.ParsePeakBands("06:00-09:00,17:00-20:00")
	require.NoError(t, err)
	return config.CreditsConfig{
		StartingBalance:   4,
		BaseCost:          1,
		PeakBands:         bands,
		PeakSurcharge:     1,
		Location:          time.UTC,
		CancellationHours: 24,
		RolloverCap:       4,
		MonthlyAllotment:  4,
	}
}

func testDeps() Deps {
	return Deps{Clock: func() time.Time { return fixedNow }}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var (
	accountColumns     = []string{"user_id", "balance", "rollover_cap", "period_reset_at", "version", "updated_at"}
	classRowColumns    = []string{"id", "title", "schedule", "capacity", "price_cents", "venue_id", "cost_metadata"}
	bookingRowColumns  = []string{"id", "user_id", "class_id", "type", "status", "credit_cost", "created_at", "cancelled_at"}
	transactionColumns = []string{"id", "user_id", "amount", "kind", "description", "booking_ref", "balance_after", "revenue_cents", "created_at"}
)

func expectEnsureAccount(mock sqlmock.Sqlmock, userID string, created bool) {
	var affected int64
	if created {
		affected = 1
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_credit_accounts")).
		WithArgs(userID, 4, 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, affected))
	if created {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_transactions")).
			WithArgs(sqlmock.AnyArg(), userID, 4, "earned", "Welcome credits", nil, 4, 0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func expectLockAccount(mock sqlmock.Sqlmock, userID string, balance int64, version int, resetAt time.Time) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, balance, rollover_cap, period_reset_at, version, updated_at FROM user_credit_accounts WHERE user_id = $1 FOR UPDATE")).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(userID, balance, 4, resetAt, version, resetAt))
}

func expectLedgerEntry(mock sqlmock.Sqlmock, userID string, amount int64, kind string, bookingRef any, balanceAfter int64) {
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credit_transactions")).
		WithArgs(sqlmock.AnyArg(), userID, amount, kind, sqlmock.AnyArg(), bookingRef, balanceAfter, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectBalanceUpdate(mock sqlmock.Sqlmock, userID string, newBalance int64, version int, affected int64) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_credit_accounts SET balance = $1, version = version + 1, updated_at = $2 WHERE user_id = $3 AND version = $4")).
		WithArgs(newBalance, sqlmock.AnyArg(), userID, version).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

// expectAppend is a full appendEntryTx against an existing account.
func expectAppend(mock sqlmock.Sqlmock, userID string, balance int64, version int, amount int64, kind string, bookingRef any) {
	expectEnsureAccount(mock, userID, false)
	expectLockAccount(mock, userID, balance, version, fixedNow.AddDate(0, -1, 0))
	expectLedgerEntry(mock, userID, amount, kind, bookingRef, balance+amount)
	expectBalanceUpdate(mock, userID, balance+amount, version, 1)
}

// capturedID matches any non-empty string argument and remembers it, so a
// later argument can be required to carry the same id.
type capturedID struct {
	value string
}

func (c *capturedID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok || s == "" {
		return false
	}
	c.value = s
	return true
}

// Same matches an argument equal to the captured id.
func (c *capturedID) Same() sqlmock.Argument {
	return sameID{c}
}

type sameID struct {
	c *capturedID
}

func (s sameID) Match(v driver.Value) bool {
	got, ok := v.(string)
	return ok && got != "" && got == s.c.value
}
