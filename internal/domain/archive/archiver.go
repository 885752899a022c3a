package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ametzler/tabvault/internal/domain/settings"
	"github.com/ametzler/tabvault/internal/sortkey"
)

// ArchiveTabs archives a batch of tab snapshots. sessionDate overrides the
// session resolution for the whole batch when non-zero; otherwise each tab's
// own SessionDate, its window marker, and finally the current time are tried
// in that order.
//
// The returned strings are minor errors (rule failures, preview capture
// failures): degradations that never abort the batch. They are always logged
// and only returned when the reportMinorErrors setting is on.
func (s *Service) ArchiveTabs(ctx context.Context, tabs []TabToArchive, sessionDate int64) ([]ArchivedTab, []string, error) {
	if len(tabs) == 0 {
		return nil, nil, ErrNoTabsSelected
	}

	cfg, err := s.settings.Archive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading archive settings: %w", err)
	}
	ruleCats, err := s.store.Categories().ListWithRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading rule categories: %w", err)
	}

	var minor []string
	var minorMu sync.Mutex
	addMinor := func(msg string) {
		minorMu.Lock()
		defer minorMu.Unlock()
		for _, existing := range minor {
			if existing == msg {
				return
			}
		}
		minor = append(minor, msg)
	}

	// Rule matching runs per tab, concurrently. A failing rule skips that
	// one category for that one tab.
	catIDs := make([][]string, len(tabs))
	var wg sync.WaitGroup
	for i := range tabs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, cat := range ruleCats {
				ok, err := s.matcher.Matches(tabs[i].Snapshot, cat.Rule)
				if err != nil {
					addMinor(fmt.Sprintf("rule for category %q failed: %v", cat.Name, err))
					continue
				}
				if ok {
					catIDs[i] = append(catIDs[i], cat.ID)
				}
			}
		}(i)
	}
	wg.Wait()

	now := time.Now().UnixMilli()
	dates := make([]int64, len(tabs))
	for i, tab := range tabs {
		dates[i] = s.resolveSessionDate(ctx, tab, sessionDate, now, addMinor)
	}

	previews := make([]string, len(tabs))
	for i := range tabs {
		previews[i] = tabs[i].PreviewImageURL
	}
	if cfg.SavePreviewImages && s.capturer != nil {
		s.capturePreviews(ctx, tabs, previews, cfg, addMinor)
	}

	entries := make([]*ArchivedTab, len(tabs))
	for i, tab := range tabs {
		low := int64(tab.Snapshot.ID)
		if low == 0 {
			low = int64(tab.Snapshot.Index)
		}
		entries[i] = &ArchivedTab{
			ID:              uuid.NewString(),
			URL:             tab.Snapshot.URL,
			Title:           tab.Snapshot.Title,
			Categories:      catIDs[i],
			Sessions:        []int64{dates[i]},
			Metadata:        tab.Snapshot,
			SortKey:         sortkey.Key{High: now, Mid: int64(tab.Snapshot.WindowID), Low: low},
			PreviewImageURL: previews[i],
		}
	}

	var archived []ArchivedTab
	err = s.store.InTx(ctx, func(tx Tx) error {
		final, superseded, touched, err := mergeBatch(ctx, tx, entries, cfg)
		if err != nil {
			return err
		}

		needed := make(map[int64]bool)
		for _, e := range final {
			for _, d := range e.Sessions {
				needed[d] = true
			}
		}
		for date := range needed {
			if err := ensureSession(ctx, tx, date); err != nil {
				return err
			}
		}

		if len(superseded) > 0 {
			if err := tx.Tabs().Delete(ctx, superseded); err != nil {
				return fmt.Errorf("deleting superseded tabs: %w", err)
			}
		}
		for _, e := range final {
			if err := tx.Tabs().Put(ctx, e); err != nil {
				return fmt.Errorf("storing tab %q: %w", e.URL, err)
			}
		}

		// Sessions whose last tab moved away in this batch are removed in
		// the same transaction.
		for _, date := range dedupeDates(touched) {
			if needed[date] {
				continue
			}
			count, err := tx.Sessions().TabCount(ctx, date)
			if err != nil {
				return fmt.Errorf("checking session %d: %w", date, err)
			}
			if count > 0 {
				continue
			}
			if err := tx.Sessions().Delete(ctx, date); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("removing empty session %d: %w", date, err)
			}
		}

		archived = make([]ArchivedTab, len(final))
		for i, e := range final {
			archived[i] = *e
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("archiving tabs: %w", err)
	}

	for _, msg := range minor {
		s.logger.Warn("archival degraded", "error", msg)
	}
	if !cfg.ReportMinorErrors {
		minor = nil
	}
	return archived, minor, nil
}

// resolveSessionDate picks the session date for one tab: explicit batch
// override, the tab's own date, the window marker, then now.
func (s *Service) resolveSessionDate(ctx context.Context, tab TabToArchive, override, now int64, addMinor func(string)) int64 {
	if override != 0 {
		return override
	}
	if tab.SessionDate != 0 {
		return tab.SessionDate
	}
	if s.markers != nil && tab.Snapshot.WindowID != 0 {
		marker, err := s.markers.Marker(ctx, tab.Snapshot.WindowID)
		if err != nil {
			addMinor(fmt.Sprintf("reading session marker of window %d: %v", tab.Snapshot.WindowID, err))
		} else if marker != nil && marker.SessionDate != 0 {
			return marker.SessionDate
		}
	}
	return now
}

// capturePreviews fills the missing entries of previews in place. The
// permission check repeats before every capture since it can be revoked at
// any time.
func (s *Service) capturePreviews(ctx context.Context, tabs []TabToArchive, previews []string, cfg settings.ArchiveSettings, addMinor func(string)) {
	opts := CaptureOptions{
		Format:  cfg.PreviewImageFormat,
		Quality: cfg.PreviewImageQuality,
		Scale:   cfg.PreviewImageScale,
	}
	for i, tab := range tabs {
		if previews[i] != "" {
			continue
		}
		if tab.Snapshot.Discarded {
			continue
		}
		if s.permissions != nil {
			granted, err := s.permissions.Granted(ctx)
			if err != nil {
				addMinor(fmt.Sprintf("checking content access permission: %v", err))
				continue
			}
			if !granted {
				addMinor("preview image skipped: content access permission not granted")
				continue
			}
		}
		img, err := s.capturer.CaptureTab(ctx, tab.Snapshot.ID, opts)
		if err != nil {
			addMinor(fmt.Sprintf("capturing preview of %q: %v", tab.Snapshot.URL, err))
			continue
		}
		previews[i] = img
	}
}

// mergeBatch applies the duplicate policies to the incoming entries against
// the stored archive. It returns the rows to write, the ids of stored rows
// superseded by a merge, and the session dates detached from surviving rows.
func mergeBatch(ctx context.Context, tx Tx, entries []*ArchivedTab, cfg settings.ArchiveSettings) (final []*ArchivedTab, superseded []string, touched []int64, err error) {
	if !cfg.NoDuplicateURLs && !cfg.OnlyStoreLatestSession {
		return entries, nil, nil, nil
	}

	entries = collapseBatch(entries)

	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	existing, err := tx.Tabs().GetByURLs(ctx, urls)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading duplicate candidates: %w", err)
	}
	byURL := make(map[string][]ArchivedTab)
	for _, row := range existing {
		byURL[row.URL] = append(byURL[row.URL], row)
	}

	for _, entry := range entries {
		rows := byURL[entry.URL]
		if len(rows) == 0 {
			final = append(final, entry)
			continue
		}
		merged, dead, detached := mergeEntry(entry, rows, cfg)
		final = append(final, merged)
		superseded = append(superseded, dead...)
		touched = append(touched, detached...)
	}
	return final, superseded, touched, nil
}

// collapseBatch merges same-URL entries within one batch. The most recently
// accessed snapshot wins; categories and sessions are unioned and a missing
// preview is backfilled from the losers.
func collapseBatch(entries []*ArchivedTab) []*ArchivedTab {
	byURL := make(map[string]*ArchivedTab, len(entries))
	var out []*ArchivedTab
	for _, e := range entries {
		cur, ok := byURL[e.URL]
		if !ok {
			byURL[e.URL] = e
			out = append(out, e)
			continue
		}
		winner, loser := cur, e
		if e.Metadata.LastAccessed > cur.Metadata.LastAccessed {
			winner, loser = e, cur
			byURL[e.URL] = e
			for i := range out {
				if out[i] == cur {
					out[i] = e
					break
				}
			}
		}
		winner.Categories = unionStrings(winner.Categories, loser.Categories)
		winner.Sessions = unionDates(winner.Sessions, loser.Sessions)
		if winner.PreviewImageURL == "" {
			winner.PreviewImageURL = loser.PreviewImageURL
		}
	}
	return out
}

// mergeEntry merges one incoming entry with the stored rows sharing its URL.
// The first stored row's id is reused so the row is updated in place;
// remaining rows are superseded. Categories are always unioned. With
// onlyStoreLatestSession the variant carrying the largest session date wins
// outright and the sessions collapse to that single date; otherwise the
// incoming snapshot wins and the session lists are unioned.
func mergeEntry(entry *ArchivedTab, rows []ArchivedTab, cfg settings.ArchiveSettings) (*ArchivedTab, []string, []int64) {
	cats := entry.Categories
	for _, row := range rows {
		cats = unionStrings(cats, row.Categories)
	}

	var dead []string
	for _, row := range rows[1:] {
		dead = append(dead, row.ID)
	}

	if cfg.OnlyStoreLatestSession {
		winner := entry
		max := entry.MaxSession()
		for i := range rows {
			if rows[i].MaxSession() > max {
				winner = &rows[i]
				max = rows[i].MaxSession()
			}
		}
		merged := *winner
		merged.ID = rows[0].ID
		merged.Categories = cats
		var detached []int64
		for _, d := range entry.Sessions {
			if d != max {
				detached = append(detached, d)
			}
		}
		for _, row := range rows {
			for _, d := range row.Sessions {
				if d != max {
					detached = append(detached, d)
				}
			}
		}
		merged.Sessions = []int64{max}
		if merged.PreviewImageURL == "" {
			merged.PreviewImageURL = firstPreview(entry, rows)
		}
		return &merged, dead, detached
	}

	merged := *entry
	merged.ID = rows[0].ID
	merged.Categories = cats
	sess := entry.Sessions
	for _, row := range rows {
		sess = unionDates(sess, row.Sessions)
	}
	merged.Sessions = sess
	if merged.PreviewImageURL == "" {
		merged.PreviewImageURL = firstPreview(entry, rows)
	}
	return &merged, dead, nil
}

// ensureSession creates the session if it doesn't exist yet. A concurrent
// create racing us is fine.
func ensureSession(ctx context.Context, tx Tx, date int64) error {
	_, err := tx.Sessions().Get(ctx, date)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("checking session %d: %w", date, err)
	}
	sess := &Session{CreationDate: date, SortKey: sortkey.Scalar(date)}
	if err := tx.Sessions().Create(ctx, sess); err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("creating session %d: %w", date, err)
	}
	return nil
}

func firstPreview(entry *ArchivedTab, rows []ArchivedTab) string {
	if entry.PreviewImageURL != "" {
		return entry.PreviewImageURL
	}
	for _, row := range rows {
		if row.PreviewImageURL != "" {
			return row.PreviewImageURL
		}
	}
	return ""
}

func unionStrings(a, b []string) []string {
	out := a
	for _, v := range b {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func unionDates(a, b []int64) []int64 {
	out := a
	for _, v := range b {
		found := false
		for _, w := range out {
			if w == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func dedupeDates(dates []int64) []int64 {
	var out []int64
	seen := make(map[int64]bool, len(dates))
	for _, d := range dates {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
