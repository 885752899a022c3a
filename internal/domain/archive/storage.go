package archive

import (
	"context"
	"errors"
)

// Table names, used to scope live-query subscriptions.
const (
	TableCategories = "categories"
	TableSessions   = "sessions"
	TableTabs       = "tabs"
	TableCachedTabs = "cached_tabs"
)

// Storage-level sentinels, returned by Store implementations.
var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness constraint fails
	ErrConflict = errors.New("conflict: entity already exists")

	// ErrForeignKeyViolation is returned when a foreign key constraint fails
	ErrForeignKeyViolation = errors.New("foreign key violation")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
)

// CategoryRepository manages category persistence.
type CategoryRepository interface {
	Create(ctx context.Context, cat *Category) error
	Get(ctx context.Context, id string) (*Category, error)
	Update(ctx context.Context, cat *Category) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Category, error)
	ListWithRules(ctx context.Context) ([]Category, error)
}

// SessionRepository manages session persistence. Sessions are keyed by their
// creation date; creating a duplicate date fails with ErrConflict.
type SessionRepository interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, date int64) (*Session, error)
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, date int64) error
	// TabCount returns how many archived tabs reference the session.
	TabCount(ctx context.Context, date int64) (int, error)
}

// TabRepository manages archived tab persistence, including category and
// session membership.
type TabRepository interface {
	// Put inserts the tab or replaces an existing row with the same id,
	// rewriting its membership lists.
	Put(ctx context.Context, tab *ArchivedTab) error
	Get(ctx context.Context, id string) (*ArchivedTab, error)
	// GetByURLs returns every archived tab whose URL is in urls.
	GetByURLs(ctx context.Context, urls []string) ([]ArchivedTab, error)
	Delete(ctx context.Context, ids []string) error
	List(ctx context.Context) ([]ArchivedTab, error)
	ListByCategory(ctx context.Context, categoryID string) ([]ArchivedTab, error)
	ListBySession(ctx context.Context, date int64) ([]ArchivedTab, error)
	// SessionRefs returns the distinct session dates referenced by the tabs.
	SessionRefs(ctx context.Context, ids []string) ([]int64, error)
}

// CachedTabRepository manages the ephemeral live-tab cache.
type CachedTabRepository interface {
	Put(ctx context.Context, tab *CachedTab) error
	Get(ctx context.Context, tabID int) (*CachedTab, error)
	Delete(ctx context.Context, tabIDs []int) error
	List(ctx context.Context) ([]CachedTab, error)
	Clear(ctx context.Context) error
}

// Tx is the repository set scoped to one transaction.
type Tx interface {
	Categories() CategoryRepository
	Sessions() SessionRepository
	Tabs() TabRepository
	CachedTabs() CachedTabRepository
}

// Subscription is a live-query registration handle.
type Subscription interface {
	Unsubscribe()
}

// Store bundles the repositories with transaction and change-notification
// support. Multi-row mutations that must succeed or fail together run inside
// InTx; the storage engine serializes the transaction against other writers.
type Store interface {
	Tx

	// InTx runs fn inside one transaction. Change notifications for tables
	// touched inside the transaction fire after commit.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Subscribe registers fn to run after every mutation of any of the given
	// tables. Subscribers also receive one initial synthetic notification.
	Subscribe(tables []string, fn func()) Subscription

	// Clear empties every table in one transaction.
	Clear(ctx context.Context) error
}
