package mocks

import (
	"context"

	"doccontrol/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockEntityStore struct {
	mock.Mock
}

func (m *MockEntityStore) Get(ctx context.Context, c repository.Collection, key string, out any) error {
	args := m.Called(ctx, c, key, out)
	if f, ok := args.Get(0).(func(out any) error); ok {
		return f(out)
	}
	return args.Error(0)
}

func (m *MockEntityStore) Put(ctx context.Context, c repository.Collection, key string, record any) error {
	args := m.Called(ctx, c, key, record)
	return args.Error(0)
}

func (m *MockEntityStore) Create(ctx context.Context, c repository.Collection, key string, record any) error {
	args := m.Called(ctx, c, key, record)
	return args.Error(0)
}

func (m *MockEntityStore) Delete(ctx context.Context, c repository.Collection, key string) error {
	args := m.Called(ctx, c, key)
	return args.Error(0)
}

func (m *MockEntityStore) Query(ctx context.Context, c repository.Collection, q repository.Query, out any) error {
	args := m.Called(ctx, c, q, out)
	if f, ok := args.Get(0).(func(out any) error); ok {
		return f(out)
	}
	return args.Error(0)
}

func (m *MockEntityStore) AppendToArray(ctx context.Context, c repository.Collection, key, field string, value any) error {
	args := m.Called(ctx, c, key, field, value)
	return args.Error(0)
}

func (m *MockEntityStore) RemoveFromArray(ctx context.Context, c repository.Collection, key, field string, value any) error {
	args := m.Called(ctx, c, key, field, value)
	return args.Error(0)
}

func (m *MockEntityStore) BatchWrite(ctx context.Context, ops []repository.Op) error {
	args := m.Called(ctx, ops)
	return args.Error(0)
}

func (m *MockEntityStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
