package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// LedgerService is the only code path that changes a credit balance.
// Every change appends an immutable credit_transactions row together with
// the account update, in one database transaction.
type LedgerService struct {
	db    *sql.DB
	users UserDirectory
	cfg   config.CreditsConfig
	deps  Deps
}

func NewLedgerService(db *sql.DB, users UserDirectory, cfg config.CreditsConfig, deps Deps) *LedgerService {
	return &LedgerService{db: db, users: users, cfg: cfg, deps: deps.withDefaults()}
}

// ledgerEntry is a requested balance change before it is applied.
type ledgerEntry struct {
	UserID       string
	Amount       int64
	Kind         models.TransactionKind
	Description  string
	BookingRef   *string
	RevenueCents int64
}

// PurchaseRequest records credits bought through the payment provider.
type PurchaseRequest struct {
	UserID           string `json:"-"`
	Credits          int64  `json:"credits" validate:"required,gt=0,lte=1000"`
	AmountCents      int64  `json:"amountCents" validate:"gte=0"`
	PaymentReference string `json:"paymentReference" validate:"required,max=200"`
}

// GetBalance returns the user's balance, opening the account on first use.
// Read failures are logged and reported as 0.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) int64 {
	if userID == "" {
		return 0
	}

	balance, err := withRetry(ctx, s.deps.Retrier, "get_balance", func() (int64, error) {
		return s.getBalance(ctx, userID)
	})
	if err != nil {
		s.deps.Logger.Error("balance lookup failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return balance
}

func (s *LedgerService) getBalance(ctx context.Context, userID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	grant, err := s.ensureAccountTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM user_credit_accounts WHERE user_id = $1`, userID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.recordCommitted(grant...)
	return balance, nil
}

// Account returns the user's account row, opening it on first use.
func (s *LedgerService) Account(ctx context.Context, userID string) (*models.CreditAccount, error) {
	return withRetry(ctx, s.deps.Retrier, "account", func() (*models.CreditAccount, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		grant, err := s.ensureAccountTx(ctx, tx, userID)
		if err != nil {
			return nil, err
		}

		var account models.CreditAccount
		if err := tx.QueryRowContext(ctx, `
			SELECT user_id, balance, rollover_cap, period_reset_at, version, updated_at
			FROM user_credit_accounts
			WHERE user_id = $1`, userID,
		).Scan(&account.UserID, &account.Balance, &account.RolloverCap, &account.PeriodResetAt, &account.Version, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("read account: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		s.recordCommitted(grant...)
		return &account, nil
	})
}

// AppendTransaction applies a signed credit change and returns the new
// transaction id. A debit that would overdraw fails with
// *InsufficientCreditsError and changes nothing.
func (s *LedgerService) AppendTransaction(ctx context.Context, userID string, amount int64, kind models.TransactionKind, description string, bookingRef *string) (string, error) {
	entry := ledgerEntry{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		BookingRef:  bookingRef,
	}
	rec, err := s.append(ctx, "append_transaction", entry)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// PurchaseCredits appends a purchased entry carrying the revenue it brought in.
func (s *LedgerService) PurchaseCredits(ctx context.Context, req PurchaseRequest) (*models.CreditTransaction, error) {
	if req.Credits <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.append(ctx, "purchase", ledgerEntry{
		UserID:       req.UserID,
		Amount:       req.Credits,
		Kind:         models.KindPurchased,
		Description:  fmt.Sprintf("Purchased %d credits (payment %s)", req.Credits, req.PaymentReference),
		RevenueCents: req.AmountCents,
	})
}

// Adjust is the admin correction path for a mis-applied rollover. The target
// must be a known user; an unknown id never opens an account.
func (s *LedgerService) Adjust(ctx context.Context, userID string, amount int64, description string) (*models.CreditTransaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := confirmUser(ctx, s.deps.Retrier, s.users, userID); err != nil {
		s.deps.Audit.LogError("adjust", userID, "", err)
		return nil, err
	}
	if description == "" {
		description = "Manual rollover adjustment"
	}
	return s.append(ctx, "adjust", ledgerEntry{
		UserID:      userID,
		Amount:      amount,
		Kind:        models.KindRolloverAdjustment,
		Description: description,
	})
}

func (s *LedgerService) append(ctx context.Context, operation string, entry ledgerEntry) (*models.CreditTransaction, error) {
	rec, err := withRetry(ctx, s.deps.Retrier, operation, func() ([]*models.CreditTransaction, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		recs, err := s.appendEntryTx(ctx, tx, entry)
		if err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return recs, nil
	})
	if err != nil {
		s.deps.Audit.LogError(operation, entry.UserID, refString(entry.BookingRef), err)
		return nil, err
	}

	s.recordCommitted(rec...)
	return rec[len(rec)-1], nil
}

// appendEntryTx applies entry inside the caller's transaction. The returned
// slice ends with the entry itself; it is preceded by the welcome grant when
// the account was opened by this call. Callers report the entries with
// recordCommitted once their transaction commits.
func (s *LedgerService) appendEntryTx(ctx context.Context, tx *sql.Tx, entry ledgerEntry) ([]*models.CreditTransaction, error) {
	if entry.UserID == "" {
		return nil, ErrUserNotFound
	}
	if entry.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !entry.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, entry.Kind)
	}

	grant, err := s.ensureAccountTx(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}

	account, err := s.lockAccount(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}

	newBalance := account.Balance + entry.Amount
	if newBalance < 0 {
		return nil, &InsufficientCreditsError{Balance: account.Balance, Required: -entry.Amount}
	}

	rec, err := s.insertEntry(ctx, tx, entry, newBalance)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, entry.UserID, newBalance, account.Version); err != nil {
		return nil, err
	}

	return append(grant, rec), nil
}

// ensureAccountTx opens the account if it is missing. The starting balance
// is written as an earned entry so the balance always equals the ledger sum.
func (s *LedgerService) ensureAccountTx(ctx context.Context, tx *sql.Tx, userID string) ([]*models.CreditTransaction, error) {
	now := s.deps.Clock()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO user_credit_accounts (user_id, balance, rollover_cap, period_reset_at, version, updated_at)
		VALUES ($1, $2, $3, $4, 0, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, s.cfg.StartingBalance, s.cfg.RolloverCap, now)
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}

	created, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	if created == 0 || s.cfg.StartingBalance == 0 {
		return nil, nil
	}

	rec, err := s.insertEntry(ctx, tx, ledgerEntry{
		UserID:      userID,
		Amount:      s.cfg.StartingBalance,
		Kind:        models.KindEarned,
		Description: "Welcome credits",
	}, s.cfg.StartingBalance)
	if err != nil {
		return nil, err
	}
	return []*models.CreditTransaction{rec}, nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID string) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, balance, rollover_cap, period_reset_at, version, updated_at
		FROM user_credit_accounts
		WHERE user_id = $1
		FOR UPDATE`, userID,
	).Scan(&account.UserID, &account.Balance, &account.RolloverCap, &account.PeriodResetAt, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", userID, err)
	}
	if account.Balance < 0 {
		return nil, fmt.Errorf("%w: account %s has negative balance", ErrMalformedRecord, userID)
	}
	return &account, nil
}

func (s *LedgerService) insertEntry(ctx context.Context, tx *sql.Tx, entry ledgerEntry, balanceAfter int64) (*models.CreditTransaction, error) {
	rec := &models.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       entry.UserID,
		Amount:       entry.Amount,
		Kind:         entry.Kind,
		Description:  entry.Description,
		BookingRef:   entry.BookingRef,
		BalanceAfter: balanceAfter,
		RevenueCents: entry.RevenueCents,
		CreatedAt:    s.deps.Clock(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, description, booking_ref, balance_after, revenue_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, rec.Amount, string(rec.Kind), rec.Description, rec.BookingRef, rec.BalanceAfter, rec.RevenueCents, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return rec, nil
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, userID string, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE user_credit_accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4`,
		newBalance, s.deps.Clock(), userID, version)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w for account %s", ErrOptimisticLock, userID)
	}
	return nil
}

// recordCommitted reports entries whose transaction has committed.
func (s *LedgerService) recordCommitted(recs ...*models.CreditTransaction) {
	for _, rec := range recs {
		s.deps.Audit.LogLedgerEntry(rec.ID, rec.UserID, string(rec.Kind), rec.Amount, rec.BalanceAfter, refString(rec.BookingRef))
		s.deps.Metrics.LedgerEntry(string(rec.Kind), rec.Amount)
	}
}

// HistoryLimit is the page size History actually uses for a requested limit.
func HistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

// History returns the user's ledger, newest first.
func (s *LedgerService) History(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	limit = HistoryLimit(limit)
	if offset < 0 {
		offset = 0
	}

	return withRetry(ctx, s.deps.Retrier, "history", func() ([]models.CreditTransaction, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, amount, kind, description, booking_ref, balance_after, revenue_cents, created_at
			FROM credit_transactions
			WHERE user_id = $1
			ORDER BY seq DESC
			LIMIT $2 OFFSET $3`, userID, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		defer rows.Close()

		history := make([]models.CreditTransaction, 0, limit)
		for rows.Next() {
			rec, err := scanTransaction(rows)
			if err != nil {
				return nil, err
			}
			history = append(history, *rec)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		return history, nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.CreditTransaction, error) {
	var (
		rec        models.CreditTransaction
		kind       string
		bookingRef sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Amount, &kind, &rec.Description, &bookingRef, &rec.BalanceAfter, &rec.RevenueCents, &rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	rec.Kind = models.TransactionKind(kind)
	if !rec.Kind.Valid() || rec.Amount == 0 || rec.BalanceAfter < 0 {
		return nil, fmt.Errorf("%w: transaction %s", ErrMalformedRecord, rec.ID)
	}
	if bookingRef.Valid {
		rec.BookingRef = &bookingRef.String
	}
	return &rec, nil
}

func refString(ref *string) string {
	if ref == nil {
		return ""
	}
	return *ref
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// periodStart is the first instant of t's calendar month in loc.
func periodStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}
