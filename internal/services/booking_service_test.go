package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cabofitpass/backend/internal/models"
)

var (
	lockClassQuery     = regexp.QuoteMeta("SELECT id, title, schedule, capacity, price_cents, venue_id, cost_metadata FROM classes WHERE id = $1 FOR UPDATE")
	activeBookingQuery = regexp.QuoteMeta("SELECT id FROM bookings WHERE user_id = $1 AND class_id = $2 AND status IN ('pending', 'completed') LIMIT 1")
	countActiveQuery   = regexp.QuoteMeta("SELECT COUNT(*) FROM bookings WHERE class_id = $1 AND status IN ('pending', 'completed')")
	insertBookingExec  = regexp.QuoteMeta("INSERT INTO bookings (id, user_id, class_id, type, status, credit_cost, created_at)")
	lockBookingQuery   = regexp.QuoteMeta("SELECT id, user_id, class_id, type, status, credit_cost, created_at, cancelled_at FROM bookings WHERE id = $1 FOR UPDATE")
	classScheduleQuery = regexp.QuoteMeta("SELECT schedule FROM classes WHERE id = $1")
	cancelBookingExec  = regexp.QuoteMeta("UPDATE bookings SET status = 'cancelled', cancelled_at = $1 WHERE id = $2 AND status IN ('pending', 'completed')")
)

type bookingFixture struct {
	service *BookingService
	mock    sqlmock.Sqlmock
	users   *MockUserDirectory
	catalog *MockClassCatalog
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	db, sqlMock := newMockDB(t)
	cfg := testCreditsConfig(t)
	deps := testDeps()

	users := new(MockUserDirectory)
	catalog := new(MockClassCatalog)
	ledger := NewLedgerService(db, users, cfg, deps)
	costs := NewCostService(catalog, cfg)

	return &bookingFixture{
		service: NewBookingService(db, ledger, costs, catalog, users, cfg, deps),
		mock:    sqlMock,
		users:   users,
		catalog: catalog,
	}
}

func expectLockClass(m sqlmock.Sqlmock, classID string, schedule time.Time, capacity int) {
	m.ExpectQuery(lockClassQuery).WithArgs(classID).
		WillReturnRows(sqlmock.NewRows(classRowColumns).
			AddRow(classID, "Sunrise Yoga", schedule, capacity, 1500, "venue-1", []byte(`{}`)))
}

func bookRow(id, userID, status string, cost int64) *sqlmock.Rows {
	return sqlmock.NewRows(bookingRowColumns).
		AddRow(id, userID, "class-1", "subscription_credit", status, cost, fixedNow.Add(-time.Hour), nil)
}

func TestBookingService_Book(t *testing.T) {
	ctx := context.Background()
	inThreeDays := fixedNow.Add(72 * time.Hour)
	req := BookRequest{UserID: "user-1", ClassID: "class-1", At: fixedNow}

	t.Run("off-peak booking debits one credit", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)
		bookingID := &capturedID{}

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", inThreeDays, 10)
		f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.mock.ExpectQuery(countActiveQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		f.mock.ExpectExec(insertBookingExec).
			WithArgs(bookingID, "user-1", "class-1", "subscription_credit", "completed", 1, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// the debit references the booking row inserted just before it
		expectAppend(f.mock, "user-1", 4, 2, -1, "used", bookingID.Same())
		f.mock.ExpectCommit()

		booking, err := f.service.Book(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, bookingID.value, booking.ID)
		assert.Equal(t, models.BookingCompleted, booking.Status)
		assert.Equal(t, models.BookingSubscriptionCredit, booking.Type)
		assert.Equal(t, int64(1), booking.CreditCost)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		f.users.AssertExpectations(t)
	})

	t.Run("drop-in at peak stays pending and costs the surcharge", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)
		peak := time.Date(2026, 10, 15, 7, 30, 0, 0, time.UTC)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", inThreeDays, 10)
		f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.mock.ExpectQuery(countActiveQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		f.mock.ExpectExec(insertBookingExec).
			WithArgs(sqlmock.AnyArg(), "user-1", "class-1", "drop_in", "pending", 2, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAppend(f.mock, "user-1", 5, 1, -2, "used", sqlmock.AnyArg())
		f.mock.ExpectCommit()

		booking, err := f.service.Book(ctx, BookRequest{UserID: "user-1", ClassID: "class-1", Type: models.BookingDropIn, At: peak})
		require.NoError(t, err)
		assert.Equal(t, models.BookingPending, booking.Status)
		assert.Equal(t, int64(2), booking.CreditCost)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "ghost").Return(false, nil)

		_, err := f.service.Book(ctx, BookRequest{UserID: "ghost", ClassID: "class-1", At: fixedNow})
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("invalid booking type", func(t *testing.T) {
		f := newBookingFixture(t)

		_, err := f.service.Book(ctx, BookRequest{UserID: "user-1", ClassID: "class-1", Type: "vip"})
		assert.ErrorIs(t, err, ErrInvalidBookingType)
	})

	t.Run("class not found", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockClassQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows(classRowColumns))
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		assert.ErrorIs(t, err, ErrClassNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("past class rejected before capacity or credits", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", fixedNow.Add(-time.Minute), 1)
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		assert.ErrorIs(t, err, ErrClassAlreadyStarted)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("class starting now counts as started", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", fixedNow, 10)
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		assert.ErrorIs(t, err, ErrClassAlreadyStarted)
	})

	t.Run("duplicate carries the existing booking id", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", inThreeDays, 10)
		f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("booking-existing"))
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		require.ErrorIs(t, err, ErrDuplicateBooking)
		var dup *DuplicateBookingError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "booking-existing", dup.BookingID)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("full class reports count and capacity", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", inThreeDays, 1)
		f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.mock.ExpectQuery(countActiveQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		require.ErrorIs(t, err, ErrClassFull)
		var full *ClassFullError
		require.True(t, errors.As(err, &full))
		assert.Equal(t, 1, full.Active)
		assert.Equal(t, 1, full.Capacity)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("insufficient credits rolls back the booking insert", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", inThreeDays, 10)
		f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.mock.ExpectQuery(countActiveQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		f.mock.ExpectExec(insertBookingExec).
			WithArgs(sqlmock.AnyArg(), "user-1", "class-1", "subscription_credit", "completed", 1, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectEnsureAccount(f.mock, "user-1", false)
		expectLockAccount(f.mock, "user-1", 0, 9, fixedNow)
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		require.ErrorIs(t, err, ErrInsufficientCredits)
		var short *InsufficientCreditsError
		require.True(t, errors.As(err, &short))
		assert.Equal(t, int64(0), short.Balance)
		assert.Equal(t, int64(1), short.Required)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unique index violation maps to duplicate", func(t *testing.T) {
		f := newBookingFixture(t)
		f.users.On("UserExists", mock.Anything, "user-1").Return(true, nil)

		f.mock.ExpectBegin()
		expectLockClass(f.mock, "class-1", inThreeDays, 10)
		f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.mock.ExpectQuery(countActiveQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		f.mock.ExpectExec(insertBookingExec).
			WillReturnError(&pq.Error{Code: "23505", Constraint: activeBookingIndex})
		f.mock.ExpectRollback()

		_, err := f.service.Book(ctx, req)
		assert.ErrorIs(t, err, ErrDuplicateBooking)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestBookingService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("refund inside the window restores the balance", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookingQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-1", "completed", 1))
		f.mock.ExpectQuery(classScheduleQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"schedule"}).AddRow(fixedNow.Add(48 * time.Hour)))
		f.mock.ExpectExec(cancelBookingExec).WithArgs(sqlmock.AnyArg(), "booking-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAppend(f.mock, "user-1", 3, 4, 1, "refunded", "booking-1")
		f.mock.ExpectCommit()

		outcome, err := f.service.Cancel(ctx, "booking-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, outcome.Booking.Status)
		require.NotNil(t, outcome.Booking.CancelledAt)
		assert.Equal(t, int64(1), outcome.RefundedCredits)
		assert.Equal(t, int64(4), outcome.Balance)
		assert.NotEmpty(t, outcome.TransactionID)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookingQuery).WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(bookingRowColumns))
		f.mock.ExpectRollback()

		_, err := f.service.Cancel(ctx, "nope", "user-1")
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})

	t.Run("someone else's booking", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookingQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-2", "completed", 1))
		f.mock.ExpectRollback()

		_, err := f.service.Cancel(ctx, "booking-1", "user-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("second cancel writes nothing", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookingQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-1", "cancelled", 1))
		f.mock.ExpectRollback()

		outcome, err := f.service.Cancel(ctx, "booking-1", "user-1")
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
		require.NotNil(t, outcome)
		assert.Equal(t, "booking-1", outcome.Booking.ID)
		assert.Equal(t, models.BookingCancelled, outcome.Booking.Status)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("too late reports hours remaining", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookingQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-1", "completed", 1))
		f.mock.ExpectQuery(classScheduleQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"schedule"}).AddRow(fixedNow.Add(10*time.Hour + 30*time.Minute)))
		f.mock.ExpectRollback()

		_, err := f.service.Cancel(ctx, "booking-1", "user-1")
		require.ErrorIs(t, err, ErrCancellationTooLate)
		var late *CancellationTooLateError
		require.True(t, errors.As(err, &late))
		assert.Equal(t, 10.5, late.HoursRemaining)
		assert.Equal(t, 24, late.RequiredHours)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("exactly at the cutoff is allowed", func(t *testing.T) {
		f := newBookingFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookingQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-1", "pending", 2))
		f.mock.ExpectQuery(classScheduleQuery).WithArgs("class-1").
			WillReturnRows(sqlmock.NewRows([]string{"schedule"}).AddRow(fixedNow.Add(24 * time.Hour)))
		f.mock.ExpectExec(cancelBookingExec).WithArgs(sqlmock.AnyArg(), "booking-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAppend(f.mock, "user-1", 0, 1, 2, "refunded", "booking-1")
		f.mock.ExpectCommit()

		outcome, err := f.service.Cancel(ctx, "booking-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), outcome.Balance)
	})
}

func TestBookingService_GetBooking(t *testing.T) {
	getQuery := regexp.QuoteMeta("SELECT id, user_id, class_id, type, status, credit_cost, created_at, cancelled_at FROM bookings WHERE id = $1")

	t.Run("owner", func(t *testing.T) {
		f := newBookingFixture(t)
		f.mock.ExpectQuery(getQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-1", "completed", 1))

		booking, err := f.service.GetBooking(context.Background(), "booking-1", "user-1")
		require.NoError(t, err)
		assert.True(t, booking.IsActive())
	})

	t.Run("other user", func(t *testing.T) {
		f := newBookingFixture(t)
		f.mock.ExpectQuery(getQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-2", "completed", 1))

		_, err := f.service.GetBooking(context.Background(), "booking-1", "user-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("malformed status", func(t *testing.T) {
		f := newBookingFixture(t)
		f.mock.ExpectQuery(getQuery).WithArgs("booking-1").
			WillReturnRows(bookRow("booking-1", "user-1", "teleported", 1))

		_, err := f.service.GetBooking(context.Background(), "booking-1", "user-1")
		assert.ErrorIs(t, err, ErrMalformedRecord)
	})
}

func TestBookingService_Eligibility(t *testing.T) {
	f := newBookingFixture(t)
	class := &models.Class{ID: "class-1", Title: "Spin", Schedule: fixedNow.Add(2 * time.Hour), Capacity: 5}
	f.catalog.On("GetClass", mock.Anything, "class-1").Return(class, nil)
	f.catalog.On("ActiveBookingCounts", mock.Anything, []string{"class-1"}).Return(map[string]int{"class-1": 5}, nil)

	f.mock.ExpectQuery(activeBookingQuery).WithArgs("user-1", "class-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	f.mock.ExpectBegin()
	expectEnsureAccount(f.mock, "user-1", false)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM user_credit_accounts WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0))
	f.mock.ExpectCommit()

	result, err := f.service.Eligibility(context.Background(), "user-1", "class-1", fixedNow)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.True(t, result.Reasons.ClassFull)
	assert.True(t, result.Reasons.InsufficientCredits)
	assert.False(t, result.Reasons.ClassInPast)
	assert.False(t, result.Reasons.AlreadyBooked)
	assert.Equal(t, 0, result.SpotsRemaining)
	assert.Equal(t, int64(1), result.RequiredCredits)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	f.catalog.AssertExpectations(t)
}
