package models

import "time"

// CreditDashboard is the per-user read model.
type CreditDashboard struct {
	UserID             string                    `json:"user_id"`
	Balance            int64                     `json:"balance"`
	RolloverCap        int64                     `json:"rollover_cap"`
	PeriodStartedAt    time.Time                 `json:"period_started_at"`
	PeriodTotals       map[TransactionKind]int64 `json:"period_totals"`
	UpcomingBookings   int                       `json:"upcoming_bookings"`
	RecentTransactions []CreditTransaction       `json:"recent_transactions"`
}

// MonthBucket aggregates one month of ledger activity.
type MonthBucket struct {
	Transactions int64                     `json:"transactions"`
	Credits      map[TransactionKind]int64 `json:"credits"`
	RevenueCents int64                     `json:"revenue_cents"`
}

// CreditAnalytics is the admin-wide projection for a date range.
type CreditAnalytics struct {
	From                  time.Time              `json:"from"`
	To                    time.Time              `json:"to"`
	TotalUsers            int64                  `json:"total_users"`
	TotalTransactions     int64                  `json:"total_transactions"`
	TotalCreditsEarned    int64                  `json:"total_credits_earned"`
	TotalCreditsUsed      int64                  `json:"total_credits_used"`
	TotalCreditsPurchased int64                  `json:"total_credits_purchased"`
	TotalCreditsExpired   int64                  `json:"total_credits_expired"`
	TotalRevenueCents     int64                  `json:"total_revenue_cents"`
	Months                map[string]MonthBucket `json:"monthly_breakdown"`
}

// RolloverResult reports what a period rollover did to one account.
type RolloverResult struct {
	UserID          string `json:"user_id"`
	PreviousBalance int64  `json:"previous_balance"`
	Expired         int64  `json:"expired"`
	Granted         int64  `json:"granted"`
	NewBalance      int64  `json:"new_balance"`
	Skipped         bool   `json:"skipped"`
}
