package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ametzler/tabvault/internal/domain/archive"
)

// CachedTabRepository implements archive.CachedTabRepository for SQLite
type CachedTabRepository struct {
	q      dbtx
	notify func(table string)
}

// NewCachedTabRepository creates a new CachedTabRepository
func NewCachedTabRepository(q dbtx, notify func(table string)) *CachedTabRepository {
	return &CachedTabRepository{q: q, notify: notify}
}

// Put inserts or replaces a cache row
func (r *CachedTabRepository) Put(ctx context.Context, tab *archive.CachedTab) error {
	metadata, err := json.Marshal(tab.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode cached tab metadata: %w", err)
	}

	query := `
		INSERT INTO cached_tabs (tab_id, session_date, metadata, preview_image_url, closed_through_archival)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET
			session_date = excluded.session_date,
			metadata = excluded.metadata,
			preview_image_url = excluded.preview_image_url,
			closed_through_archival = excluded.closed_through_archival
	`
	_, err = r.q.ExecContext(ctx, query,
		tab.TabID,
		tab.SessionDate,
		string(metadata),
		nullableString(tab.PreviewImageURL),
		tab.ClosedThroughArchival,
	)
	if err != nil {
		return fmt.Errorf("failed to write cached tab: %w", err)
	}

	r.notify(archive.TableCachedTabs)
	return nil
}

// Get retrieves a cache row by live tab id
func (r *CachedTabRepository) Get(ctx context.Context, tabID int) (*archive.CachedTab, error) {
	query := `
		SELECT tab_id, session_date, metadata, preview_image_url, closed_through_archival
		FROM cached_tabs WHERE tab_id = ?
	`
	tab, err := scanCachedTab(r.q.QueryRowContext(ctx, query, tabID))
	if err == sql.ErrNoRows {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached tab: %w", err)
	}
	return tab, nil
}

// Delete removes cache rows by live tab id
func (r *CachedTabRepository) Delete(ctx context.Context, tabIDs []int) error {
	if len(tabIDs) == 0 {
		return nil
	}
	args := make([]any, len(tabIDs))
	for i, id := range tabIDs {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM cached_tabs WHERE tab_id IN (`+placeholders(len(tabIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete cached tabs: %w", err)
	}

	r.notify(archive.TableCachedTabs)
	return nil
}

// List returns all cache rows
func (r *CachedTabRepository) List(ctx context.Context) ([]archive.CachedTab, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tab_id, session_date, metadata, preview_image_url, closed_through_archival
		FROM cached_tabs
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached tabs: %w", err)
	}
	defer rows.Close()

	var tabs []archive.CachedTab
	for rows.Next() {
		tab, err := scanCachedTab(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached tab: %w", err)
		}
		tabs = append(tabs, *tab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cached tabs: %w", err)
	}

	return tabs, nil
}

// Clear removes every cache row
func (r *CachedTabRepository) Clear(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cached_tabs`); err != nil {
		return fmt.Errorf("failed to clear cached tabs: %w", err)
	}
	r.notify(archive.TableCachedTabs)
	return nil
}

func scanCachedTab(row rowScanner) (*archive.CachedTab, error) {
	var tab archive.CachedTab
	var metadata string
	var preview sql.NullString
	if err := row.Scan(&tab.TabID, &tab.SessionDate, &metadata, &preview, &tab.ClosedThroughArchival); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &tab.Metadata); err != nil {
		return nil, err
	}
	if preview.Valid {
		tab.PreviewImageURL = preview.String
	}
	return &tab, nil
}
