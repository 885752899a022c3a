package sqlite

import (
	"context"
	"fmt"
	"sync"

	"github.com/ametzler/tabvault/internal/domain/archive"
)

// Store implements archive.Store over a SQLite database. Direct repository
// access notifies live-query subscribers immediately; mutations inside InTx
// are batched and notified once after commit.
type Store struct {
	db  *DB
	hub *hub

	categories *CategoryRepository
	sessions   *SessionRepository
	tabs       *TabRepository
	cached     *CachedTabRepository
}

// NewStore creates a Store over an opened database.
func NewStore(db *DB) *Store {
	s := &Store{db: db, hub: newHub()}
	notify := func(table string) { s.hub.notify(table) }
	s.categories = NewCategoryRepository(db, notify)
	s.sessions = NewSessionRepository(db, notify)
	s.tabs = NewTabRepository(db, notify)
	s.cached = NewCachedTabRepository(db, notify)
	return s
}

func (s *Store) Categories() archive.CategoryRepository { return s.categories }
func (s *Store) Sessions() archive.SessionRepository    { return s.sessions }
func (s *Store) Tabs() archive.TabRepository            { return s.tabs }
func (s *Store) CachedTabs() archive.CachedTabRepository {
	return s.cached
}

// InTx runs fn inside one transaction. Table notifications collected during
// the transaction fire only after a successful commit.
func (s *Store) InTx(ctx context.Context, fn func(tx archive.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	pending := &pendingTables{}
	set := &txSet{}
	set.categories = NewCategoryRepository(tx, pending.add)
	set.sessions = NewSessionRepository(tx, pending.add)
	set.tabs = NewTabRepository(tx, pending.add)
	set.cached = NewCachedTabRepository(tx, pending.add)

	if err := fn(set); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.hub.notify(pending.tables()...)
	return nil
}

// Subscribe registers a live-query callback for the given tables.
func (s *Store) Subscribe(tables []string, fn func()) archive.Subscription {
	return s.hub.subscribe(tables, fn)
}

// Clear empties every table in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	return s.InTx(ctx, func(tx archive.Tx) error {
		set := tx.(*txSet)
		for _, stmt := range []string{
			`DELETE FROM tab_categories`,
			`DELETE FROM tab_sessions`,
			`DELETE FROM tabs`,
			`DELETE FROM sessions`,
			`DELETE FROM categories`,
			`DELETE FROM cached_tabs`,
		} {
			if _, err := set.tabs.q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear archive: %w", err)
			}
		}
		set.tabs.notify(archive.TableTabs)
		set.sessions.notify(archive.TableSessions)
		set.categories.notify(archive.TableCategories)
		set.cached.notify(archive.TableCachedTabs)
		return nil
	})
}

// txSet is the repository set bound to one transaction.
type txSet struct {
	categories *CategoryRepository
	sessions   *SessionRepository
	tabs       *TabRepository
	cached     *CachedTabRepository
}

func (t *txSet) Categories() archive.CategoryRepository { return t.categories }
func (t *txSet) Sessions() archive.SessionRepository    { return t.sessions }
func (t *txSet) Tabs() archive.TabRepository            { return t.tabs }
func (t *txSet) CachedTabs() archive.CachedTabRepository {
	return t.cached
}

// pendingTables records tables touched inside a transaction.
type pendingTables struct {
	mu  sync.Mutex
	set map[string]bool
}

func (p *pendingTables) add(table string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set == nil {
		p.set = make(map[string]bool)
	}
	p.set[table] = true
}

func (p *pendingTables) tables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.set))
	for t := range p.set {
		out = append(out, t)
	}
	return out
}
