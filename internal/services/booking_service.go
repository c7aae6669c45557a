package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/audit"
	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/models"
)

const activeBookingIndex = "bookings_one_active_per_user_class"

// BookingService books and cancels classes against the credit ledger.
//
// Book locks the class row and Cancel locks the booking row before the
// ledger locks the account row, so two requests racing for the last seat
// or for the same balance are serialised by Postgres.
type BookingService struct {
	db      *sql.DB
	ledger  *LedgerService
	costs   *CostService
	catalog ClassCatalog
	users   UserDirectory
	cfg     config.CreditsConfig
	deps    Deps
}

func NewBookingService(db *sql.DB, ledger *LedgerService, costs *CostService, catalog ClassCatalog, users UserDirectory, cfg config.CreditsConfig, deps Deps) *BookingService {
	return &BookingService{
		db:      db,
		ledger:  ledger,
		costs:   costs,
		catalog: catalog,
		users:   users,
		cfg:     cfg,
		deps:    deps.withDefaults(),
	}
}

type BookRequest struct {
	UserID  string             `json:"-"`
	ClassID string             `json:"classId" validate:"required,max=64"`
	Type    models.BookingType `json:"bookingType" validate:"omitempty,oneof=drop_in subscription_credit one_time"`
	At      time.Time          `json:"-"`
}

type bookResult struct {
	booking *models.Booking
	entries []*models.CreditTransaction
}

// Book reserves a seat and debits its credit cost. Checks run in a fixed
// order: class exists, class not started, no active duplicate, capacity,
// then the debit.
func (s *BookingService) Book(ctx context.Context, req BookRequest) (*models.Booking, error) {
	if req.Type == "" {
		req.Type = models.BookingSubscriptionCredit
	}
	if req.At.IsZero() {
		req.At = s.deps.Clock()
	}

	res, err := s.book(ctx, req)
	s.deps.Metrics.BookingOutcome(ErrorCode(err))
	if err != nil {
		s.deps.Audit.LogError("book", req.UserID, req.ClassID, err)
		if !IsBusinessError(err) {
			s.deps.Logger.Error("booking failed",
				zap.String("user_id", req.UserID),
				zap.String("class_id", req.ClassID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	s.ledger.recordCommitted(res.entries...)
	s.deps.Audit.LogBooking(audit.EventBookingCreated, res.booking.ID, res.booking.UserID, res.booking.ClassID, res.booking.CreditCost)
	s.deps.Logger.Info("class booked",
		zap.String("booking_id", res.booking.ID),
		zap.String("user_id", res.booking.UserID),
		zap.String("class_id", res.booking.ClassID),
		zap.Int64("credit_cost", res.booking.CreditCost),
	)
	return res.booking, nil
}

func (s *BookingService) book(ctx context.Context, req BookRequest) (*bookResult, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBookingType, req.Type)
	}

	if err := confirmUser(ctx, s.deps.Retrier, s.users, req.UserID); err != nil {
		return nil, err
	}

	return withRetry(ctx, s.deps.Retrier, "book", func() (*bookResult, error) {
		return s.bookTx(ctx, req)
	})
}

func (s *BookingService) bookTx(ctx context.Context, req BookRequest) (*bookResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	class, err := s.lockClass(ctx, tx, req.ClassID)
	if err != nil {
		return nil, err
	}

	if !class.Schedule.After(req.At) {
		return nil, ErrClassAlreadyStarted
	}

	existingID, err := s.activeBookingID(ctx, tx, req.UserID, req.ClassID)
	if err != nil {
		return nil, err
	}
	if existingID != "" {
		return nil, &DuplicateBookingError{BookingID: existingID}
	}

	active, err := s.countActive(ctx, tx, req.ClassID)
	if err != nil {
		return nil, err
	}
	if active >= class.Capacity {
		return nil, &ClassFullError{Active: active, Capacity: class.Capacity}
	}

	cost, _ := s.costs.CostFor(class, req.At)

	booking := &models.Booking{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		ClassID:    req.ClassID,
		Type:       req.Type,
		Status:     initialStatus(req.Type),
		CreditCost: cost,
		CreatedAt:  s.deps.Clock(),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (id, user_id, class_id, type, status, credit_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		booking.ID, booking.UserID, booking.ClassID, string(booking.Type), string(booking.Status), booking.CreditCost, booking.CreatedAt,
	); err != nil {
		if isUniqueViolation(err, activeBookingIndex) {
			return nil, &DuplicateBookingError{}
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	entries, err := s.ledger.appendEntryTx(ctx, tx, ledgerEntry{
		UserID:      req.UserID,
		Amount:      -cost,
		Kind:        models.KindUsed,
		Description: fmt.Sprintf("Booked %s", class.Title),
		BookingRef:  &booking.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &bookResult{booking: booking, entries: entries}, nil
}

// Subscription credit bookings are settled by the debit; drop-in and
// one-time bookings stay pending until the venue confirms payment.
func initialStatus(t models.BookingType) models.BookingStatus {
	if t == models.BookingSubscriptionCredit {
		return models.BookingCompleted
	}
	return models.BookingPending
}

func (s *BookingService) lockClass(ctx context.Context, tx *sql.Tx, classID string) (*models.Class, error) {
	class, err := scanClass(tx.QueryRowContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE id = $1 FOR UPDATE`, classID))
	if isNoRows(err) {
		return nil, ErrClassNotFound
	}
	return class, err
}

func (s *BookingService) activeBookingID(ctx context.Context, q queryer, userID, classID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM bookings
		WHERE user_id = $1 AND class_id = $2 AND status IN ('pending', 'completed')
		LIMIT 1`, userID, classID).Scan(&id)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("check duplicate booking: %w", err)
	}
	return id, nil
}

func (s *BookingService) countActive(ctx context.Context, tx *sql.Tx, classID string) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE class_id = $1 AND status IN ('pending', 'completed')`, classID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return count, nil
}

type cancelResult struct {
	outcome *models.CancelOutcome
	entries []*models.CreditTransaction
}

// Cancel refunds a booking in full when the class is at least the
// cancellation window away. Cancelling twice returns the booking with
// ErrAlreadyCancelled and writes nothing.
func (s *BookingService) Cancel(ctx context.Context, bookingID, userID string) (*models.CancelOutcome, error) {
	var current *models.CancelOutcome
	res, err := withRetry(ctx, s.deps.Retrier, "cancel", func() (*cancelResult, error) {
		r, err := s.cancelTx(ctx, bookingID, userID)
		if r != nil && errors.Is(err, ErrAlreadyCancelled) {
			current = r.outcome
		}
		return r, err
	})
	s.deps.Metrics.CancelOutcome(ErrorCode(err))
	if err != nil {
		s.deps.Audit.LogError("cancel", userID, bookingID, err)
		if !IsBusinessError(err) {
			s.deps.Logger.Error("cancellation failed",
				zap.String("booking_id", bookingID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return current, err
	}

	s.ledger.recordCommitted(res.entries...)
	b := res.outcome.Booking
	s.deps.Audit.LogBooking(audit.EventBookingCancel, b.ID, b.UserID, b.ClassID, res.outcome.RefundedCredits)
	s.deps.Logger.Info("booking cancelled",
		zap.String("booking_id", b.ID),
		zap.String("user_id", b.UserID),
		zap.Int64("refunded", res.outcome.RefundedCredits),
	)
	return res.outcome, nil
}

func (s *BookingService) cancelTx(ctx context.Context, bookingID, userID string) (*cancelResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	booking, err := scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
	if isNoRows(err) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, ErrUnauthorized
	}
	if !booking.IsActive() {
		return &cancelResult{outcome: &models.CancelOutcome{Booking: booking}}, ErrAlreadyCancelled
	}

	var schedule time.Time
	err = tx.QueryRowContext(ctx, `SELECT schedule FROM classes WHERE id = $1`, booking.ClassID).Scan(&schedule)
	if isNoRows(err) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read class schedule: %w", err)
	}

	now := s.deps.Clock()
	remaining := schedule.Sub(now)
	if remaining < s.cfg.CancellationWindow() {
		hours := remaining.Hours()
		if hours < 0 {
			hours = 0
		}
		return nil, newCancellationTooLate(hours, s.cfg.CancellationHours)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = $1
		WHERE id = $2 AND status IN ('pending', 'completed')`, now, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	} else if n == 0 {
		return nil, ErrAlreadyCancelled
	}

	entries, err := s.ledger.appendEntryTx(ctx, tx, ledgerEntry{
		UserID:      booking.UserID,
		Amount:      booking.CreditCost,
		Kind:        models.KindRefunded,
		Description: "Refund for cancelled booking",
		BookingRef:  &booking.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	booking.Status = models.BookingCancelled
	booking.CancelledAt = &now
	refund := entries[len(entries)-1]
	return &cancelResult{
		outcome: &models.CancelOutcome{
			Booking:         booking,
			RefundedCredits: refund.Amount,
			Balance:         refund.BalanceAfter,
			TransactionID:   refund.ID,
		},
		entries: entries,
	}, nil
}

// GetBooking returns a booking owned by userID.
func (s *BookingService) GetBooking(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	booking, err := scanBooking(s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
	if isNoRows(err) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, ErrUnauthorized
	}
	return booking, nil
}

// Eligibility reports, without writing anything, whether the user could
// book the class at the given time and why not.
func (s *BookingService) Eligibility(ctx context.Context, userID, classID string, at time.Time) (*models.Eligibility, error) {
	if at.IsZero() {
		at = s.deps.Clock()
	}

	class, err := s.catalog.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	counts, err := s.catalog.ActiveBookingCounts(ctx, []string{classID})
	if err != nil {
		return nil, err
	}

	existingID, err := s.activeBookingID(ctx, s.db, userID, classID)
	if err != nil {
		return nil, err
	}

	balance := s.ledger.GetBalance(ctx, userID)
	cost, _ := s.costs.CostFor(class, at)
	spots := class.Capacity - counts[classID]
	if spots < 0 {
		spots = 0
	}

	reasons := models.EligibilityReasons{
		ClassInPast:         !class.Schedule.After(at),
		ClassFull:           spots == 0,
		InsufficientCredits: balance < cost,
		AlreadyBooked:       existingID != "",
	}
	return &models.Eligibility{
		Eligible:        !reasons.ClassInPast && !reasons.ClassFull && !reasons.InsufficientCredits && !reasons.AlreadyBooked,
		Reasons:         reasons,
		Balance:         balance,
		RequiredCredits: cost,
		SpotsRemaining:  spots,
		Class:           class,
	}, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const bookingColumns = `id, user_id, class_id, type, status, credit_cost, created_at, cancelled_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		bookingType string
		status      string
		cancelledAt sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.ClassID, &bookingType, &status, &b.CreditCost, &b.CreatedAt, &cancelledAt); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}

	b.Type = models.BookingType(bookingType)
	b.Status = models.BookingStatus(status)
	if !b.Type.Valid() || !b.Status.Valid() || b.CreditCost < 1 {
		return nil, fmt.Errorf("%w: booking %s", ErrMalformedRecord, b.ID)
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}
