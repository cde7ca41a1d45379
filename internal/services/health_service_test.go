package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStoreChecker struct {
	mock.Mock
}

func (m *MockStoreChecker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockCounter struct {
	mock.Mock
}

func (m *MockCounter) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func TestHealthService_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		store := new(MockStoreChecker)
		leads := new(MockCounter)
		messages := new(MockCounter)
		service := NewHealthService(store, leads, messages)

		store.On("Ping", ctx).Return(nil)
		leads.On("Count", ctx).Return(int64(12), nil)
		messages.On("Count", ctx).Return(int64(34), nil)

		report, err := service.Check(ctx)
		require.NoError(t, err)
		assert.Equal(t, "connected", report.Database)
		assert.Equal(t, int64(12), report.TotalLeads)
		assert.Equal(t, int64(34), report.TotalMessages)
	})

	t.Run("store unreachable", func(t *testing.T) {
		store := new(MockStoreChecker)
		service := NewHealthService(store, new(MockCounter), new(MockCounter))

		store.On("Ping", ctx).Return(errors.New("connection refused"))

		_, err := service.Check(ctx)
		assert.Error(t, err)
	})

	t.Run("count failure", func(t *testing.T) {
		store := new(MockStoreChecker)
		leads := new(MockCounter)
		service := NewHealthService(store, leads, new(MockCounter))

		store.On("Ping", ctx).Return(nil)
		leads.On("Count", ctx).Return(int64(0), errors.New("relation missing"))

		_, err := service.Check(ctx)
		assert.Error(t, err)
	})
}
