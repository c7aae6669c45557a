package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := NewLogger(zap.New(core))

	a.LogLedgerEntry("tx-1", "user-1", "used", -2, 3, "booking-1")
	a.LogBooking(EventBookingCreated, "booking-1", "user-1", "class-1", 2)
	a.LogRollover("user-1", 1, 4, 8)
	a.LogError("book", "user-1", "class-1", errors.New("class is full"))
	a.LogError("book", "user-1", "class-1", nil)

	entries := logs.All()
	assert.Len(t, entries, 4)
	assert.Equal(t, "audit", entries[0].LoggerName)
	assert.Equal(t, EventLedgerEntry, entries[0].ContextMap()["event_type"])
	assert.Equal(t, int64(-2), entries[0].ContextMap()["amount"])
	assert.Equal(t, EventBookingCreated, entries[1].ContextMap()["event_type"])
	assert.Equal(t, EventRollover, entries[2].ContextMap()["event_type"])
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.Equal(t, "FAILED", entries[3].ContextMap()["status"])
}

func TestLogger_NilSafe(t *testing.T) {
	var a *Logger
	assert.NotPanics(t, func() {
		a.LogLedgerEntry("tx", "u", "earned", 1, 1, "")
		a.LogError("op", "u", "", errors.New("x"))
	})
}
