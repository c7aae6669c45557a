package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cabofitpass/backend/internal/models"
)

type MockClassCatalog struct {
	mock.Mock
}

func (m *MockClassCatalog) GetClass(ctx context.Context, classID string) (*models.Class, error) {
	args := m.Called(ctx, classID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Class), args.Error(1)
}

func (m *MockClassCatalog) GetClasses(ctx context.Context, classIDs []string) (map[string]*models.Class, error) {
	args := m.Called(ctx, classIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*models.Class), args.Error(1)
}

func (m *MockClassCatalog) ActiveBookingCounts(ctx context.Context, classIDs []string) (map[string]int, error) {
	args := m.Called(ctx, classIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}
