package models

import "time"

type BookingType string

const (
	BookingDropIn             BookingType = "drop_in"
	BookingSubscriptionCredit BookingType = "subscription_credit"
	BookingOneTime            BookingType = "one_time"
)

func (t BookingType) Valid() bool {
	switch t {
	case BookingDropIn, BookingSubscriptionCredit, BookingOneTime:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingRefunded  BookingStatus = "refunded"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingCompleted, BookingCancelled, BookingRefunded:
		return true
	}
	return false
}

// Booking links a user to a class. Rows are never deleted; cancellation
// is a status change.
type Booking struct {
	ID          string        `json:"id" db:"id"`
	UserID      string        `json:"user_id" db:"user_id"`
	ClassID     string        `json:"class_id" db:"class_id"`
	Type        BookingType   `json:"type" db:"type"`
	Status      BookingStatus `json:"status" db:"status"`
	CreditCost  int64         `json:"credit_cost" db:"credit_cost"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// IsActive reports whether the booking holds a seat.
func (b *Booking) IsActive() bool {
	return b.Status == BookingPending || b.Status == BookingCompleted
}

// CancelOutcome is returned by a cancellation.
type CancelOutcome struct {
	Booking         *Booking `json:"booking"`
	RefundedCredits int64    `json:"refunded_credits"`
	Balance         int64    `json:"balance"`
	TransactionID   string   `json:"transaction_id,omitempty"`
}

// Eligibility is a read-only answer to "can this user book this class now".
type Eligibility struct {
	Eligible        bool               `json:"eligible"`
	Reasons         EligibilityReasons `json:"reasons"`
	Balance         int64              `json:"user_balance"`
	RequiredCredits int64              `json:"required_credits"`
	SpotsRemaining  int                `json:"spots_remaining"`
	Class           *Class             `json:"class_details"`
}

type EligibilityReasons struct {
	ClassInPast         bool `json:"class_in_past"`
	ClassFull           bool `json:"class_full"`
	InsufficientCredits bool `json:"insufficient_credits"`
	AlreadyBooked       bool `json:"already_booked"`
}
