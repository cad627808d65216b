package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/storage"
)

// MockVerifier is an idp.Verifier driven by testify expectations
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Type() string {
	return "mock"
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (*idp.Identity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Identity), args.Error(1)
}

// MockStorage is a storage.Storage driven by testify expectations. Tests use
// it to assert that rejected requests never reach the store.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) List(ctx context.Context, collection string, q storage.Query) ([]storage.Document, error) {
	args := m.Called(ctx, collection, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.Document), args.Error(1)
}

func (m *MockStorage) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	args := m.Called(ctx, collection, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Document), args.Error(1)
}

func (m *MockStorage) FindOne(ctx context.Context, collection, field string, value any) (storage.Document, error) {
	args := m.Called(ctx, collection, field, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Document), args.Error(1)
}

func (m *MockStorage) Create(ctx context.Context, collection string, doc storage.Document) (storage.Document, error) {
	args := m.Called(ctx, collection, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Document), args.Error(1)
}

func (m *MockStorage) Update(ctx context.Context, collection string, sel storage.Selector, fields storage.Document) (storage.Document, error) {
	args := m.Called(ctx, collection, sel, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Document), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, collection string, sel storage.Selector) error {
	args := m.Called(ctx, collection, sel)
	return args.Error(0)
}

func (m *MockStorage) Increment(ctx context.Context, collection, id, field string, delta int64) (storage.Document, error) {
	args := m.Called(ctx, collection, id, field, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storage.Document), args.Error(1)
}

func (m *MockStorage) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	args := m.Called(ctx, collection, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) Sum(ctx context.Context, collection, field string, filter map[string]any) (int64, error) {
	args := m.Called(ctx, collection, field, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) Upsert(ctx context.Context, collection, id string, fields storage.Document) error {
	args := m.Called(ctx, collection, id, fields)
	return args.Error(0)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

var (
	_ idp.Verifier    = (*MockVerifier)(nil)
	_ storage.Storage = (*MockStorage)(nil)
)
