package mocks

import (
	"context"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/stretchr/testify/mock"
)

// CategoryRepository is a mock for archive.CategoryRepository.
type CategoryRepository struct {
	mock.Mock
}

func (m *CategoryRepository) Create(ctx context.Context, cat *archive.Category) error {
	args := m.Called(ctx, cat)
	return args.Error(0)
}

func (m *CategoryRepository) Get(ctx context.Context, id string) (*archive.Category, error) {
	args := m.Called(ctx, id)
	if cat, ok := args.Get(0).(*archive.Category); ok {
		return cat, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CategoryRepository) Update(ctx context.Context, cat *archive.Category) error {
	args := m.Called(ctx, cat)
	return args.Error(0)
}

func (m *CategoryRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *CategoryRepository) List(ctx context.Context) ([]archive.Category, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]archive.Category); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CategoryRepository) ListWithRules(ctx context.Context) ([]archive.Category, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]archive.Category); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// SessionRepository is a mock for archive.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, sess *archive.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *SessionRepository) Get(ctx context.Context, date int64) (*archive.Session, error) {
	args := m.Called(ctx, date)
	if sess, ok := args.Get(0).(*archive.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) List(ctx context.Context) ([]archive.Session, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]archive.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Delete(ctx context.Context, date int64) error {
	args := m.Called(ctx, date)
	return args.Error(0)
}

func (m *SessionRepository) TabCount(ctx context.Context, date int64) (int, error) {
	args := m.Called(ctx, date)
	return args.Int(0), args.Error(1)
}

// TabRepository is a mock for archive.TabRepository.
type TabRepository struct {
	mock.Mock
}

func (m *TabRepository) Put(ctx context.Context, tab *archive.ArchivedTab) error {
	args := m.Called(ctx, tab)
	return args.Error(0)
}

func (m *TabRepository) Get(ctx context.Context, id string) (*archive.ArchivedTab, error) {
	args := m.Called(ctx, id)
	if tab, ok := args.Get(0).(*archive.ArchivedTab); ok {
		return tab, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TabRepository) GetByURLs(ctx context.Context, urls []string) ([]archive.ArchivedTab, error) {
	args := m.Called(ctx, urls)
	if list, ok := args.Get(0).([]archive.ArchivedTab); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TabRepository) Delete(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *TabRepository) List(ctx context.Context) ([]archive.ArchivedTab, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]archive.ArchivedTab); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TabRepository) ListByCategory(ctx context.Context, categoryID string) ([]archive.ArchivedTab, error) {
	args := m.Called(ctx, categoryID)
	if list, ok := args.Get(0).([]archive.ArchivedTab); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TabRepository) ListBySession(ctx context.Context, date int64) ([]archive.ArchivedTab, error) {
	args := m.Called(ctx, date)
	if list, ok := args.Get(0).([]archive.ArchivedTab); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TabRepository) SessionRefs(ctx context.Context, ids []string) ([]int64, error) {
	args := m.Called(ctx, ids)
	if refs, ok := args.Get(0).([]int64); ok {
		return refs, args.Error(1)
	}
	return nil, args.Error(1)
}

// CachedTabRepository is a mock for archive.CachedTabRepository.
type CachedTabRepository struct {
	mock.Mock
}

func (m *CachedTabRepository) Put(ctx context.Context, tab *archive.CachedTab) error {
	args := m.Called(ctx, tab)
	return args.Error(0)
}

func (m *CachedTabRepository) Get(ctx context.Context, tabID int) (*archive.CachedTab, error) {
	args := m.Called(ctx, tabID)
	if tab, ok := args.Get(0).(*archive.CachedTab); ok {
		return tab, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CachedTabRepository) Delete(ctx context.Context, tabIDs []int) error {
	args := m.Called(ctx, tabIDs)
	return args.Error(0)
}

func (m *CachedTabRepository) List(ctx context.Context) ([]archive.CachedTab, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]archive.CachedTab); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CachedTabRepository) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Store is a mock for archive.Store. InTx invokes fn with the store itself
// as the transaction scope.
type Store struct {
	mock.Mock
	CategoriesRepo CategoryRepository
	SessionsRepo   SessionRepository
	TabsRepo       TabRepository
	CachedRepo     CachedTabRepository
}

func (m *Store) Categories() archive.CategoryRepository  { return &m.CategoriesRepo }
func (m *Store) Sessions() archive.SessionRepository     { return &m.SessionsRepo }
func (m *Store) Tabs() archive.TabRepository             { return &m.TabsRepo }
func (m *Store) CachedTabs() archive.CachedTabRepository { return &m.CachedRepo }

func (m *Store) InTx(ctx context.Context, fn func(tx archive.Tx) error) error {
	return fn(m)
}

func (m *Store) Subscribe(tables []string, fn func()) archive.Subscription {
	args := m.Called(tables, fn)
	if sub, ok := args.Get(0).(archive.Subscription); ok {
		return sub
	}
	return nil
}

func (m *Store) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
