package models

import (
	"time"
)

// TransactionKind is the business reason for a ledger entry.
type TransactionKind string

const (
	KindEarned             TransactionKind = "earned"
	KindPurchased          TransactionKind = "purchased"
	KindUsed               TransactionKind = "used"
	KindRefunded           TransactionKind = "refunded"
	KindExpired            TransactionKind = "expired"
	KindRolloverAdjustment TransactionKind = "rollover_adjustment"
)

// TransactionKinds lists every kind in reporting order.
var TransactionKinds = []TransactionKind{
	KindEarned, KindPurchased, KindUsed, KindRefunded, KindExpired, KindRolloverAdjustment,
}

func (k TransactionKind) Valid() bool {
	for _, known := range TransactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// CreditAccount is the per-user balance row. Balance only ever changes
// together with an appended CreditTransaction.
type CreditAccount struct {
	UserID        string    `json:"user_id" db:"user_id"`
	Balance       int64     `json:"balance" db:"balance"`
	RolloverCap   int64     `json:"rollover_cap" db:"rollover_cap"`
	PeriodResetAt time.Time `json:"period_reset_at" db:"period_reset_at"`
	Version       int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// CreditTransaction is an immutable ledger entry.
type CreditTransaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       int64           `json:"amount" db:"amount"` // signed credits
	Kind         TransactionKind `json:"kind" db:"kind"`
	Description  string          `json:"description" db:"description"`
	BookingRef   *string         `json:"booking_ref,omitempty" db:"booking_ref"`
	BalanceAfter int64           `json:"balance_after" db:"balance_after"`
	RevenueCents int64           `json:"revenue_cents" db:"revenue_cents"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
