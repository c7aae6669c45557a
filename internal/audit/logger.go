package audit

import (
	"go.uber.org/zap"
)

// Event types written to the audit trail.
const (
	EventLedgerEntry    = "LEDGER_ENTRY"
	EventBookingCreated = "BOOKING_CREATED"
	EventBookingCancel  = "BOOKING_CANCELLED"
	EventRollover       = "ROLLOVER"
	EventError          = "ERROR"
)

// Logger writes one structured line per credit mutation. A nil *Logger is a no-op.
type Logger struct {
	log *zap.Logger
}

func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{log: base.Named("audit")}
}

func (a *Logger) LogLedgerEntry(transactionID, userID, kind string, amount, balanceAfter int64, bookingRef string) {
	if a == nil {
		return
	}
	a.log.Info("AUDIT",
		zap.String("event_type", EventLedgerEntry),
		zap.String("transaction_id", transactionID),
		zap.String("user_id", userID),
		zap.String("kind", kind),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", balanceAfter),
		zap.String("booking_ref", bookingRef),
		zap.String("status", "SUCCESS"),
	)
}

func (a *Logger) LogBooking(eventType, bookingID, userID, classID string, credits int64) {
	if a == nil {
		return
	}
	a.log.Info("AUDIT",
		zap.String("event_type", eventType),
		zap.String("booking_id", bookingID),
		zap.String("user_id", userID),
		zap.String("class_id", classID),
		zap.Int64("amount", credits),
		zap.String("status", "SUCCESS"),
	)
}

func (a *Logger) LogRollover(userID string, expired, granted, newBalance int64) {
	if a == nil {
		return
	}
	a.log.Info("AUDIT",
		zap.String("event_type", EventRollover),
		zap.String("user_id", userID),
		zap.Int64("expired", expired),
		zap.Int64("granted", granted),
		zap.Int64("balance_after", newBalance),
		zap.String("status", "SUCCESS"),
	)
}

// LogError records a rejected or failed mutation.
func (a *Logger) LogError(operation, userID, reference string, err error) {
	if a == nil || err == nil {
		return
	}
	a.log.Warn("AUDIT",
		zap.String("event_type", EventError),
		zap.String("operation", operation),
		zap.String("user_id", userID),
		zap.String("reference", reference),
		zap.String("status", "FAILED"),
		zap.Error(err),
	)
}
