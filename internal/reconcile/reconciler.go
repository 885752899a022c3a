// Package reconcile keeps the live browser state and the archive consistent
// across restarts. The browser offers no "before close" hook, so a per-tab
// cache substitutes for one: every open tab is mirrored into a cache row, and
// on the next startup the rows tell which tabs were closed without being
// archived.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/domain/settings"
	"github.com/ametzler/tabvault/internal/events"
)

// MarkerVersion is the current session-marker shape version.
const MarkerVersion = 1

// Window is one live browser window.
type Window struct {
	ID       int
	TabCount int
}

// TabProvider is the browser side of reconciliation: live windows and tabs,
// and the per-window session markers.
type TabProvider interface {
	Windows(ctx context.Context) ([]Window, error)
	Tabs(ctx context.Context, windowID int) ([]archive.TabSnapshot, error)
	// OpenTab creates a tab in the window, e.g. the archive-view placeholder.
	OpenTab(ctx context.Context, windowID int, url string) error
	CloseTabs(ctx context.Context, tabIDs []int) error
	Marker(ctx context.Context, windowID int) (*archive.SessionMarker, error)
	SetMarker(ctx context.Context, windowID int, marker archive.SessionMarker) error
}

// Archiver is the slice of the archive service the reconciler drives.
type Archiver interface {
	ArchiveTabs(ctx context.Context, tabs []archive.TabToArchive, sessionDate int64) ([]archive.ArchivedTab, []string, error)
	CachedTab(ctx context.Context, tabID int) (*archive.CachedTab, error)
	PutCachedTab(ctx context.Context, tab *archive.CachedTab) error
	DeleteCachedTabs(ctx context.Context, tabIDs []int) error
	ListCachedTabs(ctx context.Context) ([]archive.CachedTab, error)
	ClearCachedTabs(ctx context.Context) error
}

// SettingsProvider supplies the current archive policy.
type SettingsProvider interface {
	Archive(ctx context.Context) (settings.ArchiveSettings, error)
}

// Reconciler mirrors live tabs into the cache and replays missed archivals
// after a restart.
type Reconciler struct {
	tabs        TabProvider
	archiver    Archiver
	settings    SettingsProvider
	permissions archive.PermissionChecker
	capturer    archive.Capturer
	bus         *events.Bus
	logger      *slog.Logger

	archiveViewURL string

	mu      sync.Mutex
	session int64
	busSub  *events.Subscription
}

// NewReconciler creates a Reconciler. permissions and capturer may be nil
// when preview capture is unavailable.
func NewReconciler(tabs TabProvider, archiver Archiver, settingsProvider SettingsProvider, permissions archive.PermissionChecker, capturer archive.Capturer, bus *events.Bus, archiveViewURL string, logger *slog.Logger) *Reconciler {
	r := &Reconciler{
		tabs:           tabs,
		archiver:       archiver,
		settings:       settingsProvider,
		permissions:    permissions,
		capturer:       capturer,
		bus:            bus,
		logger:         logger,
		archiveViewURL: archiveViewURL,
	}
	r.busSub = bus.Subscribe(events.TopicArchiveDeleted, func(any) {
		if err := r.RebuildCache(context.Background()); err != nil {
			logger.Error("cache rebuild after archive deletion failed", "error", err)
		}
	})
	return r
}

// Stop detaches the reconciler from the events bus.
func (r *Reconciler) Stop() {
	r.busSub.Unsubscribe()
}

// SessionDate returns the current session date. It is stamped by Startup.
func (r *Reconciler) SessionDate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Marker returns the session marker of a window, satisfying the archive
// service's marker lookup.
func (r *Reconciler) Marker(ctx context.Context, windowID int) (*archive.SessionMarker, error) {
	return r.tabs.Marker(ctx, windowID)
}

// Startup stamps a fresh session and reconciles every window against the
// archive. Per-window failures are logged and never abort the walk.
func (r *Reconciler) Startup(ctx context.Context) error {
	r.mu.Lock()
	r.session = time.Now().UnixMilli()
	session := r.session
	r.mu.Unlock()

	cfg, err := r.settings.Archive(ctx)
	if err != nil {
		return fmt.Errorf("loading archive settings: %w", err)
	}
	windows, err := r.tabs.Windows(ctx)
	if err != nil {
		return fmt.Errorf("listing windows: %w", err)
	}

	for _, win := range windows {
		if err := r.reconcileWindow(ctx, win, cfg, session); err != nil {
			r.logger.Error("window reconciliation failed", "window", win.ID, "error", err)
		}
	}

	if err := r.sweepResiduals(ctx, cfg, session); err != nil {
		r.logger.Error("residual sweep failed", "error", err)
	}
	return nil
}

// reconcileWindow handles one window at startup. A window carrying a marker
// from an earlier session was restored by the browser: its tabs belong to
// that old session and are archived under the old date before the marker is
// restamped.
func (r *Reconciler) reconcileWindow(ctx context.Context, win Window, cfg settings.ArchiveSettings, session int64) error {
	marker, err := r.tabs.Marker(ctx, win.ID)
	if err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}

	tabs, err := r.tabs.Tabs(ctx, win.ID)
	if err != nil {
		return fmt.Errorf("listing tabs: %w", err)
	}

	closed := make(map[int]bool)
	if marker != nil && marker.SessionDate != 0 && marker.SessionDate != session {
		closed, err = r.archiveRestored(ctx, win, tabs, cfg, marker.SessionDate)
		if err != nil {
			return err
		}
	}

	if err := r.tabs.SetMarker(ctx, win.ID, archive.SessionMarker{Version: MarkerVersion, SessionDate: session}); err != nil {
		return fmt.Errorf("stamping marker: %w", err)
	}

	for _, tab := range tabs {
		if closed[tab.ID] {
			continue
		}
		if err := r.refreshCacheRow(ctx, tab, session); err != nil {
			r.logger.Warn("cache refresh failed", "tab", tab.ID, "error", err)
		}
	}
	return nil
}

// archiveRestored archives the eligible tabs of a restored window under the
// old session date, then closes them if configured, opening the archive-view
// placeholder first when closing would kill the window. It returns the ids of
// the tabs it closed.
func (r *Reconciler) archiveRestored(ctx context.Context, win Window, tabs []archive.TabSnapshot, cfg settings.ArchiveSettings, oldDate int64) (map[int]bool, error) {
	eligible := filterEligible(tabs, cfg)
	if len(eligible) == 0 {
		return nil, nil
	}

	batch := make([]archive.TabToArchive, len(eligible))
	for i, tab := range eligible {
		batch[i] = archive.TabToArchive{Snapshot: tab}
	}
	if _, _, err := r.archiver.ArchiveTabs(ctx, batch, oldDate); err != nil {
		return nil, fmt.Errorf("archiving restored window %d: %w", win.ID, err)
	}

	if !cfg.AutoCloseArchivedTabs {
		return nil, nil
	}

	ids := make([]int, len(eligible))
	for i, tab := range eligible {
		ids[i] = tab.ID
	}
	if len(ids) >= win.TabCount {
		if err := r.tabs.OpenTab(ctx, win.ID, r.archiveViewURL); err != nil {
			return nil, fmt.Errorf("opening placeholder tab: %w", err)
		}
	}
	// Flag the rows first so the removal events don't re-archive.
	for _, tab := range eligible {
		row := &archive.CachedTab{
			TabID:                 tab.ID,
			SessionDate:           oldDate,
			Metadata:              tab,
			ClosedThroughArchival: true,
		}
		if err := r.archiver.PutCachedTab(ctx, row); err != nil {
			r.logger.Warn("flagging cached tab failed", "tab", tab.ID, "error", err)
		}
	}
	if err := r.tabs.CloseTabs(ctx, ids); err != nil {
		return nil, fmt.Errorf("closing archived tabs: %w", err)
	}

	closed := make(map[int]bool, len(ids))
	for _, id := range ids {
		closed[id] = true
	}
	return closed, nil
}

// sweepResiduals handles cache rows whose tab is not open in any window:
// those tabs were closed during a full shutdown, after the cache row was
// written but before any close event could fire.
func (r *Reconciler) sweepResiduals(ctx context.Context, cfg settings.ArchiveSettings, session int64) error {
	rows, err := r.archiver.ListCachedTabs(ctx)
	if err != nil {
		return fmt.Errorf("listing cached tabs: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	open := make(map[int]bool)
	windows, err := r.tabs.Windows(ctx)
	if err != nil {
		return fmt.Errorf("listing windows: %w", err)
	}
	for _, win := range windows {
		tabs, err := r.tabs.Tabs(ctx, win.ID)
		if err != nil {
			return fmt.Errorf("listing tabs: %w", err)
		}
		for _, tab := range tabs {
			open[tab.ID] = true
		}
	}

	for _, row := range rows {
		if open[row.TabID] {
			continue
		}
		if err := r.reconcileResidual(ctx, row, cfg, session); err != nil {
			r.logger.Warn("residual reconciliation failed", "tab", row.TabID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileResidual(ctx context.Context, row archive.CachedTab, cfg settings.ArchiveSettings, session int64) error {
	if cfg.ArchiveAllTabsOnBrowserClose && !row.ClosedThroughArchival && isEligible(row.Metadata, cfg) {
		batch := []archive.TabToArchive{{
			Snapshot:        row.Metadata,
			SessionDate:     row.SessionDate,
			PreviewImageURL: row.PreviewImageURL,
		}}
		if _, _, err := r.archiver.ArchiveTabs(ctx, batch, 0); err != nil {
			return err
		}
		return r.archiver.DeleteCachedTabs(ctx, []int{row.TabID})
	}
	row.SessionDate = session
	row.ClosedThroughArchival = false
	return r.archiver.PutCachedTab(ctx, &row)
}

// HandleTabCreated mirrors a newly opened tab into the cache.
func (r *Reconciler) HandleTabCreated(ctx context.Context, tab archive.TabSnapshot) {
	session := r.SessionDate()
	row := &archive.CachedTab{TabID: tab.ID, SessionDate: session, Metadata: tab}
	if err := r.archiver.PutCachedTab(ctx, row); err != nil {
		r.logger.Warn("caching created tab failed", "tab", tab.ID, "error", err)
	}
}

// HandleTabUpdated refreshes the cache row of a tab. A row still carrying an
// earlier session date marks a tab that survived a restart without being
// archived; it is archived retroactively under that old date first.
func (r *Reconciler) HandleTabUpdated(ctx context.Context, tab archive.TabSnapshot) {
	session := r.SessionDate()

	row, err := r.archiver.CachedTab(ctx, tab.ID)
	if err != nil {
		r.logger.Warn("loading cached tab failed", "tab", tab.ID, "error", err)
		return
	}

	cfg, err := r.settings.Archive(ctx)
	if err != nil {
		r.logger.Warn("loading archive settings failed", "error", err)
		return
	}

	if row != nil && row.SessionDate != 0 && row.SessionDate != session && !row.ClosedThroughArchival {
		if err := r.archiveStale(ctx, row, tab, cfg); err != nil {
			r.logger.Warn("retroactive archival failed", "tab", tab.ID, "error", err)
		}
	}

	fresh := &archive.CachedTab{TabID: tab.ID, SessionDate: session, Metadata: tab}
	if row != nil {
		fresh.PreviewImageURL = row.PreviewImageURL
	}
	if cfg.SavePreviewImages && tab.Active && !tab.Discarded {
		if img := r.capturePreview(ctx, tab, cfg); img != "" {
			fresh.PreviewImageURL = img
		}
	}
	if err := r.archiver.PutCachedTab(ctx, fresh); err != nil {
		r.logger.Warn("caching updated tab failed", "tab", tab.ID, "error", err)
	}
}

// archiveStale archives a still-open tab that belongs to an earlier session,
// honoring the eligibility filters and the close-after-archive policy.
func (r *Reconciler) archiveStale(ctx context.Context, row *archive.CachedTab, tab archive.TabSnapshot, cfg settings.ArchiveSettings) error {
	if !isEligible(tab, cfg) {
		return nil
	}
	batch := []archive.TabToArchive{{
		Snapshot:        row.Metadata,
		SessionDate:     row.SessionDate,
		PreviewImageURL: row.PreviewImageURL,
	}}
	if _, _, err := r.archiver.ArchiveTabs(ctx, batch, 0); err != nil {
		return err
	}
	if cfg.AutoCloseArchivedTabs {
		flagged := *row
		flagged.ClosedThroughArchival = true
		if err := r.archiver.PutCachedTab(ctx, &flagged); err != nil {
			return err
		}
		return r.tabs.CloseTabs(ctx, []int{tab.ID})
	}
	return nil
}

// HandleTabRemoved reacts to a tab close. windowClosing distinguishes a
// window-driven closure (browser or window shutting down) from an individual
// close.
func (r *Reconciler) HandleTabRemoved(ctx context.Context, tabID int, windowClosing bool) {
	row, err := r.archiver.CachedTab(ctx, tabID)
	if err != nil {
		r.logger.Warn("loading cached tab failed", "tab", tabID, "error", err)
		return
	}
	if row == nil {
		return
	}

	defer func() {
		if err := r.archiver.DeleteCachedTabs(ctx, []int{tabID}); err != nil {
			r.logger.Warn("dropping cached tab failed", "tab", tabID, "error", err)
		}
	}()

	if row.ClosedThroughArchival {
		return
	}

	cfg, err := r.settings.Archive(ctx)
	if err != nil {
		r.logger.Warn("loading archive settings failed", "error", err)
		return
	}

	shouldArchive := cfg.ArchiveTabOnClose || (windowClosing && cfg.ArchiveAllTabsOnBrowserClose)
	if !shouldArchive {
		return
	}
	if windowClosing && !isEligible(row.Metadata, cfg) {
		return
	}

	batch := []archive.TabToArchive{{
		Snapshot:        row.Metadata,
		SessionDate:     row.SessionDate,
		PreviewImageURL: row.PreviewImageURL,
	}}
	if _, _, err := r.archiver.ArchiveTabs(ctx, batch, 0); err != nil {
		r.logger.Warn("archive on close failed", "tab", tabID, "error", err)
	}
}

// RebuildCache drops every cache row and re-mirrors the currently open tabs.
// Runs after the archive was wiped.
func (r *Reconciler) RebuildCache(ctx context.Context) error {
	session := r.SessionDate()

	if err := r.archiver.ClearCachedTabs(ctx); err != nil {
		return fmt.Errorf("clearing cached tabs: %w", err)
	}
	windows, err := r.tabs.Windows(ctx)
	if err != nil {
		return fmt.Errorf("listing windows: %w", err)
	}
	for _, win := range windows {
		tabs, err := r.tabs.Tabs(ctx, win.ID)
		if err != nil {
			return fmt.Errorf("listing tabs: %w", err)
		}
		for _, tab := range tabs {
			row := &archive.CachedTab{TabID: tab.ID, SessionDate: session, Metadata: tab}
			if err := r.archiver.PutCachedTab(ctx, row); err != nil {
				r.logger.Warn("caching tab failed", "tab", tab.ID, "error", err)
			}
		}
	}
	return nil
}

// refreshCacheRow mirrors a live tab, keeping a previously captured preview.
func (r *Reconciler) refreshCacheRow(ctx context.Context, tab archive.TabSnapshot, session int64) error {
	row, err := r.archiver.CachedTab(ctx, tab.ID)
	if err != nil {
		return err
	}
	fresh := &archive.CachedTab{TabID: tab.ID, SessionDate: session, Metadata: tab}
	if row != nil {
		fresh.PreviewImageURL = row.PreviewImageURL
	}
	return r.archiver.PutCachedTab(ctx, fresh)
}

// capturePreview captures the tab if the content-access permission is still
// granted. Failures degrade to "no preview".
func (r *Reconciler) capturePreview(ctx context.Context, tab archive.TabSnapshot, cfg settings.ArchiveSettings) string {
	if r.capturer == nil {
		return ""
	}
	if r.permissions != nil {
		granted, err := r.permissions.Granted(ctx)
		if err != nil || !granted {
			return ""
		}
	}
	img, err := r.capturer.CaptureTab(ctx, tab.ID, archive.CaptureOptions{
		Format:  cfg.PreviewImageFormat,
		Quality: cfg.PreviewImageQuality,
		Scale:   cfg.PreviewImageScale,
	})
	if err != nil {
		r.logger.Warn("preview capture failed", "tab", tab.ID, "error", err)
		return ""
	}
	return img
}

func isEligible(tab archive.TabSnapshot, cfg settings.ArchiveSettings) bool {
	if tab.Hidden && !cfg.ArchiveHiddenTabs {
		return false
	}
	if tab.Pinned && !cfg.ArchivePinnedTabs {
		return false
	}
	return true
}

func filterEligible(tabs []archive.TabSnapshot, cfg settings.ArchiveSettings) []archive.TabSnapshot {
	var out []archive.TabSnapshot
	for _, tab := range tabs {
		if isEligible(tab, cfg) {
			out = append(out, tab)
		}
	}
	return out
}
