package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/models"
)

// RolloverService closes a credit period. Balance above the account's
// rollover cap is written off as an expired entry, then the monthly
// allotment is granted. An account already reset in the current period is
// skipped, so the batch can be re-triggered safely.
type RolloverService struct {
	db     *sql.DB
	ledger *LedgerService
	users  UserDirectory
	cfg    config.CreditsConfig
	deps   Deps
}

func NewRolloverService(db *sql.DB, ledger *LedgerService, users UserDirectory, cfg config.CreditsConfig, deps Deps) *RolloverService {
	return &RolloverService{db: db, ledger: ledger, users: users, cfg: cfg, deps: deps.withDefaults()}
}

// ProcessRollover rolls over one account, or every account when userID is
// empty. Each account commits on its own; failures are collected and the
// batch keeps going. A single userID must name a known user.
func (s *RolloverService) ProcessRollover(ctx context.Context, userID string) ([]models.RolloverResult, error) {
	userIDs := []string{userID}
	if userID != "" {
		if err := confirmUser(ctx, s.deps.Retrier, s.users, userID); err != nil {
			s.deps.Metrics.RolloverOutcome("failed")
			s.deps.Audit.LogError("rollover", userID, "", err)
			return nil, err
		}
	} else {
		var err error
		userIDs, err = s.accountIDs(ctx)
		if err != nil {
			return nil, err
		}
	}

	period := periodStart(s.deps.Clock(), s.cfg.Location)
	results := make([]models.RolloverResult, 0, len(userIDs))
	var errs []error

	for _, uid := range userIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := withRetry(ctx, s.deps.Retrier, "rollover", func() (*rolloverOutcome, error) {
			return s.rolloverTx(ctx, uid, period)
		})
		if err != nil {
			s.deps.Metrics.RolloverOutcome("failed")
			s.deps.Audit.LogError("rollover", uid, "", err)
			s.deps.Logger.Error("rollover failed", zap.String("user_id", uid), zap.Error(err))
			errs = append(errs, fmt.Errorf("rollover %s: %w", uid, err))
			continue
		}

		if res.result.Skipped {
			s.deps.Metrics.RolloverOutcome("skipped")
		} else {
			s.ledger.recordCommitted(res.entries...)
			s.deps.Metrics.RolloverOutcome("processed")
			s.deps.Audit.LogRollover(uid, res.result.Expired, res.result.Granted, res.result.NewBalance)
		}
		results = append(results, res.result)
	}

	s.deps.Logger.Info("rollover finished",
		zap.Time("period", period),
		zap.Int("accounts", len(results)),
		zap.Int("failures", len(errs)),
	)
	return results, errors.Join(errs...)
}

type rolloverOutcome struct {
	result  models.RolloverResult
	entries []*models.CreditTransaction
}

func (s *RolloverService) rolloverTx(ctx context.Context, userID string, period time.Time) (*rolloverOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	grant, err := s.ledger.ensureAccountTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	out := &rolloverOutcome{
		result: models.RolloverResult{
			UserID:          userID,
			PreviousBalance: account.Balance,
			NewBalance:      account.Balance,
		},
		entries: grant,
	}

	if !account.PeriodResetAt.Before(period) {
		out.result.Skipped = true
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return out, nil
	}

	if excess := account.Balance - account.RolloverCap; excess > 0 {
		entries, err := s.ledger.appendEntryTx(ctx, tx, ledgerEntry{
			UserID:      userID,
			Amount:      -excess,
			Kind:        models.KindExpired,
			Description: fmt.Sprintf("Expired %d credits above rollover cap of %d", excess, account.RolloverCap),
		})
		if err != nil {
			return nil, err
		}
		out.entries = append(out.entries, entries...)
		out.result.Expired = excess
		out.result.NewBalance = entries[len(entries)-1].BalanceAfter
	}

	if s.cfg.MonthlyAllotment > 0 {
		entries, err := s.ledger.appendEntryTx(ctx, tx, ledgerEntry{
			UserID:      userID,
			Amount:      s.cfg.MonthlyAllotment,
			Kind:        models.KindEarned,
			Description: fmt.Sprintf("Monthly credits for %s", period.Format("2006-01")),
		})
		if err != nil {
			return nil, err
		}
		out.entries = append(out.entries, entries...)
		out.result.Granted = s.cfg.MonthlyAllotment
		out.result.NewBalance = entries[len(entries)-1].BalanceAfter
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_credit_accounts SET period_reset_at = $1 WHERE user_id = $2`,
		period, userID,
	); err != nil {
		return nil, fmt.Errorf("advance period: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *RolloverService) accountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_credit_accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
