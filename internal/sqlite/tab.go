package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/sortkey"
)

// TabRepository implements archive.TabRepository for SQLite
type TabRepository struct {
	q      dbtx
	notify func(table string)
}

// NewTabRepository creates a new TabRepository
func NewTabRepository(q dbtx, notify func(table string)) *TabRepository {
	return &TabRepository{q: q, notify: notify}
}

// Put inserts or replaces an archived tab together with its category and
// session membership. Referencing a category or session that doesn't exist
// fails with ErrForeignKeyViolation.
func (r *TabRepository) Put(ctx context.Context, tab *archive.ArchivedTab) error {
	metadata, err := json.Marshal(tab.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode tab metadata: %w", err)
	}

	query := `
		INSERT INTO tabs (id, url, title, metadata, key_high, key_mid, key_low, preview_image_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			metadata = excluded.metadata,
			key_high = excluded.key_high,
			key_mid = excluded.key_mid,
			key_low = excluded.key_low,
			preview_image_url = excluded.preview_image_url
	`
	_, err = r.q.ExecContext(ctx, query,
		tab.ID,
		tab.URL,
		tab.Title,
		string(metadata),
		tab.SortKey.High,
		tab.SortKey.Mid,
		tab.SortKey.Low,
		nullableString(tab.PreviewImageURL),
	)
	if err != nil {
		return fmt.Errorf("failed to write tab: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM tab_categories WHERE tab_id = ?`, tab.ID); err != nil {
		return fmt.Errorf("failed to clear tab categories: %w", err)
	}
	for _, catID := range tab.Categories {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO tab_categories (tab_id, category_id) VALUES (?, ?)`, tab.ID, catID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return archive.ErrForeignKeyViolation
			}
			return fmt.Errorf("failed to link tab category: %w", err)
		}
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM tab_sessions WHERE tab_id = ?`, tab.ID); err != nil {
		return fmt.Errorf("failed to clear tab sessions: %w", err)
	}
	for _, date := range tab.Sessions {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO tab_sessions (tab_id, session_date) VALUES (?, ?)`, tab.ID, date)
		if err != nil {
			if isForeignKeyViolation(err) {
				return archive.ErrForeignKeyViolation
			}
			return fmt.Errorf("failed to link tab session: %w", err)
		}
	}

	r.notify(archive.TableTabs)
	return nil
}

// Get retrieves an archived tab by id
func (r *TabRepository) Get(ctx context.Context, id string) (*archive.ArchivedTab, error) {
	tabs, err := r.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tabs) == 0 {
		return nil, archive.ErrNotFound
	}
	return &tabs[0], nil
}

// GetByURLs returns every archived tab whose URL is one of urls
func (r *TabRepository) GetByURLs(ctx context.Context, urls []string) ([]archive.ArchivedTab, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	return r.query(ctx, `WHERE url IN (`+placeholders(len(urls))+`)`, args...)
}

// Delete bulk-removes tabs by id. Membership rows cascade.
func (r *TabRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM tabs WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete tabs: %w", err)
	}

	r.notify(archive.TableTabs)
	return nil
}

// List returns all archived tabs
func (r *TabRepository) List(ctx context.Context) ([]archive.ArchivedTab, error) {
	return r.query(ctx, ``)
}

// ListByCategory returns the tabs referencing a category
func (r *TabRepository) ListByCategory(ctx context.Context, categoryID string) ([]archive.ArchivedTab, error) {
	return r.query(ctx,
		`WHERE id IN (SELECT tab_id FROM tab_categories WHERE category_id = ?)`, categoryID)
}

// ListBySession returns the tabs referencing a session
func (r *TabRepository) ListBySession(ctx context.Context, date int64) ([]archive.ArchivedTab, error) {
	return r.query(ctx,
		`WHERE id IN (SELECT tab_id FROM tab_sessions WHERE session_date = ?)`, date)
}

// SessionRefs returns the distinct session dates referenced by the tabs
func (r *TabRepository) SessionRefs(ctx context.Context, ids []string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT DISTINCT session_date FROM tab_sessions WHERE tab_id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get session refs: %w", err)
	}
	defer rows.Close()

	var dates []int64
	for rows.Next() {
		var date int64
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan session ref: %w", err)
		}
		dates = append(dates, date)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session refs: %w", err)
	}

	return dates, nil
}

func (r *TabRepository) query(ctx context.Context, where string, args ...any) ([]archive.ArchivedTab, error) {
	query := `SELECT id, url, title, metadata, key_high, key_mid, key_low, preview_image_url FROM tabs ` + where
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tabs: %w", err)
	}
	defer rows.Close()

	var tabs []archive.ArchivedTab
	for rows.Next() {
		var tab archive.ArchivedTab
		var metadata string
		var preview sql.NullString
		var key sortkey.Key
		if err := rows.Scan(&tab.ID, &tab.URL, &tab.Title, &metadata,
			&key.High, &key.Mid, &key.Low, &preview); err != nil {
			return nil, fmt.Errorf("failed to scan tab: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &tab.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode tab metadata: %w", err)
		}
		tab.SortKey = key
		if preview.Valid {
			tab.PreviewImageURL = preview.String
		}
		tabs = append(tabs, tab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tabs: %w", err)
	}

	if err := r.loadMemberships(ctx, tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// loadMemberships fills category and session lists for the given tabs with
// two bulk queries.
func (r *TabRepository) loadMemberships(ctx context.Context, tabs []archive.ArchivedTab) error {
	if len(tabs) == 0 {
		return nil
	}
	byID := make(map[string]*archive.ArchivedTab, len(tabs))
	args := make([]any, len(tabs))
	for i := range tabs {
		byID[tabs[i].ID] = &tabs[i]
		args[i] = tabs[i].ID
	}
	ph := placeholders(len(tabs))

	rows, err := r.q.QueryContext(ctx,
		`SELECT tab_id, category_id FROM tab_categories WHERE tab_id IN (`+ph+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to load tab categories: %w", err)
	}
	for rows.Next() {
		var tabID, catID string
		if err := rows.Scan(&tabID, &catID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tab category: %w", err)
		}
		byID[tabID].Categories = append(byID[tabID].Categories, catID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating tab categories: %w", err)
	}
	rows.Close()

	rows, err = r.q.QueryContext(ctx,
		`SELECT tab_id, session_date FROM tab_sessions WHERE tab_id IN (`+ph+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to load tab sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tabID string
		var date int64
		if err := rows.Scan(&tabID, &date); err != nil {
			return fmt.Errorf("failed to scan tab session: %w", err)
		}
		byID[tabID].Sessions = append(byID[tabID].Sessions, date)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tab sessions: %w", err)
	}

	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
