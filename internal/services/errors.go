package services

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"

	"github.com/lib/pq"
)

// Business-rule outcomes. These are expected results, never retried.
var (
	ErrClassNotFound       = errors.New("class not found")
	ErrClassAlreadyStarted = errors.New("class has already started")
	ErrDuplicateBooking    = errors.New("user already has an active booking for this class")
	ErrClassFull           = errors.New("class is full")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrUnauthorized        = errors.New("booking belongs to another user")
	ErrAlreadyCancelled    = errors.New("booking is already cancelled")
	ErrCancellationTooLate = errors.New("cancellation window has passed")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("credit amount must be non-zero")
	ErrInvalidKind         = errors.New("unknown transaction kind")
	ErrInvalidBookingType  = errors.New("unknown booking type")
	ErrInvalidDateRange    = errors.New("invalid date range")
)

// Infrastructure outcomes.
var (
	ErrOptimisticLock  = errors.New("optimistic lock failed")
	ErrMalformedRecord = errors.New("malformed record")
)

// InsufficientCreditsError carries what the client needs to show "need N more credits".
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool { return target == ErrInsufficientCredits }

// Shortfall is how many more credits the user needs.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Balance
}

type DuplicateBookingError struct {
	BookingID string
}

func (e *DuplicateBookingError) Error() string {
	if e.BookingID == "" {
		return ErrDuplicateBooking.Error()
	}
	return fmt.Sprintf("%s (booking %s)", ErrDuplicateBooking, e.BookingID)
}

func (e *DuplicateBookingError) Is(target error) bool { return target == ErrDuplicateBooking }

type ClassFullError struct {
	Active   int
	Capacity int
}

func (e *ClassFullError) Error() string {
	return fmt.Sprintf("class is full: %d/%d booked", e.Active, e.Capacity)
}

func (e *ClassFullError) Is(target error) bool { return target == ErrClassFull }

type CancellationTooLateError struct {
	HoursRemaining float64
	RequiredHours  int
}

func newCancellationTooLate(hoursRemaining float64, required int) *CancellationTooLateError {
	return &CancellationTooLateError{
		HoursRemaining: math.Round(hoursRemaining*100) / 100,
		RequiredHours:  required,
	}
}

func (e *CancellationTooLateError) Error() string {
	return fmt.Sprintf("cancellation requires %dh notice, %.2fh remaining", e.RequiredHours, e.HoursRemaining)
}

func (e *CancellationTooLateError) Is(target error) bool { return target == ErrCancellationTooLate }

// IsBusinessError reports whether err is an expected business-rule outcome.
func IsBusinessError(err error) bool {
	if err == nil {
		return false
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return true
		}
	}
	return false
}

// Postgres SQLSTATEs that mean "try the whole transaction again".
var retryableCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// IsRetryable reports whether err is a transient infrastructure failure.
func IsRetryable(err error) bool {
	if err == nil || IsBusinessError(err) {
		return false
	}
	if errors.Is(err, ErrOptimisticLock) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableCodes[pqErr.Code]
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrClassNotFound, "class_not_found"},
	{ErrClassAlreadyStarted, "class_already_started"},
	{ErrDuplicateBooking, "duplicate_booking"},
	{ErrClassFull, "class_full"},
	{ErrInsufficientCredits, "insufficient_credits"},
	{ErrBookingNotFound, "booking_not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadyCancelled, "already_cancelled"},
	{ErrCancellationTooLate, "cancellation_too_late"},
	{ErrUserNotFound, "user_not_found"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidKind, "invalid_kind"},
	{ErrInvalidBookingType, "invalid_booking_type"},
	{ErrInvalidDateRange, "invalid_date_range"},
}

// ErrorCode is the stable machine-readable name of err, used for API
// responses and metric labels. Infrastructure errors are "retryable" or "internal".
func ErrorCode(err error) string {
	if err == nil {
		return "success"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if IsRetryable(err) {
		return "retryable"
	}
	return "internal"
}
