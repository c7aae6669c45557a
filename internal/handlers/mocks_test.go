package handlers

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cabofitpass/backend/internal/models"
	"github.com/cabofitpass/backend/internal/services"
)

type MockLedger struct{ mock.Mock }

func (m *MockLedger) GetBalance(ctx context.Context, userID string) int64 {
	return m.Called(ctx, userID).Get(0).(int64)
}

func (m *MockLedger) History(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CreditTransaction), args.Error(1)
}

func (m *MockLedger) PurchaseCredits(ctx context.Context, req services.PurchaseRequest) (*models.CreditTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditTransaction), args.Error(1)
}

func (m *MockLedger) Adjust(ctx context.Context, userID string, amount int64, description string) (*models.CreditTransaction, error) {
	args := m.Called(ctx, userID, amount, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditTransaction), args.Error(1)
}

type MockCosts struct{ mock.Mock }

func (m *MockCosts) Cost(ctx context.Context, classID string, at time.Time) (int64, error) {
	args := m.Called(ctx, classID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCosts) PreviewCosts(ctx context.Context, classIDs []string, at time.Time) ([]models.ClassCost, error) {
	args := m.Called(ctx, classIDs, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ClassCost), args.Error(1)
}

type MockBookings struct{ mock.Mock }

func (m *MockBookings) Book(ctx context.Context, req services.BookRequest) (*models.Booking, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookings) Cancel(ctx context.Context, bookingID, userID string) (*models.CancelOutcome, error) {
	args := m.Called(ctx, bookingID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CancelOutcome), args.Error(1)
}

func (m *MockBookings) Eligibility(ctx context.Context, userID, classID string, at time.Time) (*models.Eligibility, error) {
	args := m.Called(ctx, userID, classID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Eligibility), args.Error(1)
}

func (m *MockBookings) GetBooking(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type MockDashboards struct{ mock.Mock }

func (m *MockDashboards) UserDashboard(ctx context.Context, userID string) (*models.CreditDashboard, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditDashboard), args.Error(1)
}

func (m *MockDashboards) Analytics(ctx context.Context, from, to time.Time) (*models.CreditAnalytics, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditAnalytics), args.Error(1)
}

type MockRollovers struct{ mock.Mock }

func (m *MockRollovers) ProcessRollover(ctx context.Context, userID string) ([]models.RolloverResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RolloverResult), args.Error(1)
}
