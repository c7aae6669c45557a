package models

import "time"

// CostMetadata is the optional per-class credit pricing stored as JSON.
type CostMetadata struct {
	BaseCredits int64 `json:"base_credits,omitempty"`
	PeakCredits int64 `json:"peak_credits,omitempty"`
}

// Class is a schedulable session. Read-only to the credit engine.
type Class struct {
	ID           string       `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Schedule     time.Time    `json:"schedule" db:"schedule"`
	Capacity     int          `json:"capacity" db:"capacity"`
	PriceCents   int64        `json:"price_cents" db:"price_cents"`
	VenueID      string       `json:"venue_id" db:"venue_id"`
	CostMetadata CostMetadata `json:"cost_metadata" db:"cost_metadata"`
}

// ClassCost is one row of a batch cost preview.
type ClassCost struct {
	Class          *Class `json:"class"`
	CreditCost     int64  `json:"credit_cost"`
	Peak           bool   `json:"peak"`
	SpotsRemaining int    `json:"spots_remaining"`
	IsAvailable    bool   `json:"is_available"`
}
