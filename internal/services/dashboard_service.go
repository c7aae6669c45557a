package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/models"
)

const recentTransactionsLimit = 10

// DashboardService builds read-only projections over the ledger.
type DashboardService struct {
	db     *sql.DB
	ledger *LedgerService
	cfg    config.CreditsConfig
	deps   Deps
}

func NewDashboardService(db *sql.DB, ledger *LedgerService, cfg config.CreditsConfig, deps Deps) *DashboardService {
	return &DashboardService{db: db, ledger: ledger, cfg: cfg, deps: deps.withDefaults()}
}

func emptyKindTotals() map[models.TransactionKind]int64 {
	totals := make(map[models.TransactionKind]int64, len(models.TransactionKinds))
	for _, kind := range models.TransactionKinds {
		totals[kind] = 0
	}
	return totals
}

// UserDashboard returns the user's balance, this period's totals per kind,
// recent ledger entries and upcoming booking count.
func (s *DashboardService) UserDashboard(ctx context.Context, userID string) (*models.CreditDashboard, error) {
	account, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent, err := s.ledger.History(ctx, userID, recentTransactionsLimit, 0)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock()
	start := periodStart(now, s.cfg.Location)

	totals, err := s.periodTotals(ctx, userID, start)
	if err != nil {
		return nil, err
	}

	var upcoming int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM bookings b
		JOIN classes c ON c.id = b.class_id
		WHERE b.user_id = $1 AND b.status IN ('pending', 'completed') AND c.schedule > $2`,
		userID, now,
	).Scan(&upcoming); err != nil {
		return nil, fmt.Errorf("count upcoming bookings: %w", err)
	}

	return &models.CreditDashboard{
		UserID:             userID,
		Balance:            account.Balance,
		RolloverCap:        account.RolloverCap,
		PeriodStartedAt:    account.PeriodResetAt,
		PeriodTotals:       totals,
		UpcomingBookings:   upcoming,
		RecentTransactions: recent,
	}, nil
}

func (s *DashboardService) periodTotals(ctx context.Context, userID string, since time.Time) (map[models.TransactionKind]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY kind`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("period totals: %w", err)
	}
	defer rows.Close()

	totals := emptyKindTotals()
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, fmt.Errorf("period totals: %w", err)
		}
		if k := models.TransactionKind(kind); k.Valid() {
			totals[k] = total
		}
	}
	return totals, rows.Err()
}

// Analytics aggregates ledger activity in [from, to) by studio-local month
// and kind. Used and expired totals are reported as positive credits.
func (s *DashboardService) Analytics(ctx context.Context, from, to time.Time) (*models.CreditAnalytics, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, ErrInvalidDateRange
	}

	tz := "UTC"
	if s.cfg.Location != nil {
		tz = s.cfg.Location.String()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE $3, 'YYYY-MM') AS month, kind,
			COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(revenue_cents), 0)
		FROM credit_transactions
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY month, kind
		ORDER BY month, kind`, from, to, tz)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	defer rows.Close()

	report := &models.CreditAnalytics{
		From:   from,
		To:     to,
		Months: make(map[string]models.MonthBucket),
	}

	for rows.Next() {
		var (
			month, kind            string
			count, amount, revenue int64
		)
		if err := rows.Scan(&month, &kind, &count, &amount, &revenue); err != nil {
			return nil, fmt.Errorf("analytics: %w", err)
		}
		k := models.TransactionKind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("%w: transaction kind %q", ErrMalformedRecord, kind)
		}

		bucket, ok := report.Months[month]
		if !ok {
			bucket = models.MonthBucket{Credits: emptyKindTotals()}
		}
		bucket.Transactions += count
		bucket.Credits[k] += amount
		bucket.RevenueCents += revenue
		report.Months[month] = bucket

		report.TotalTransactions += count
		report.TotalRevenueCents += revenue
		switch k {
		case models.KindEarned:
			report.TotalCreditsEarned += amount
		case models.KindPurchased:
			report.TotalCreditsPurchased += amount
		case models.KindUsed:
			report.TotalCreditsUsed -= amount
		case models.KindExpired:
			report.TotalCreditsExpired -= amount
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM credit_transactions
		WHERE created_at >= $1 AND created_at < $2`, from, to,
	).Scan(&report.TotalUsers); err != nil {
		return nil, fmt.Errorf("analytics users: %w", err)
	}
	return report, nil
}
