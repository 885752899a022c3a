package archive_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/domain/rules"
	"github.com/ametzler/tabvault/internal/domain/settings"
	"github.com/ametzler/tabvault/internal/events"
	"github.com/ametzler/tabvault/internal/sqlite"
)

type fakeSettings struct {
	cfg settings.ArchiveSettings
	err error
}

func (f *fakeSettings) Archive(ctx context.Context) (settings.ArchiveSettings, error) {
	return f.cfg, f.err
}

type fakeMarkers struct {
	markers map[int]*archive.SessionMarker
}

func (f *fakeMarkers) Marker(ctx context.Context, windowID int) (*archive.SessionMarker, error) {
	return f.markers[windowID], nil
}

type fakePermissions struct {
	granted bool
}

func (f *fakePermissions) Granted(ctx context.Context) (bool, error) {
	return f.granted, nil
}

type fakeCapturer struct {
	calls int
	err   error
}

func (f *fakeCapturer) CaptureTab(ctx context.Context, tabID int, opts archive.CaptureOptions) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("data:image/%s;base64,cap%d", opts.Format, tabID), nil
}

type fixture struct {
	svc      *archive.Service
	store    archive.Store
	settings *fakeSettings
	markers  *fakeMarkers
	perms    *fakePermissions
	capturer *fakeCapturer
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:    sqlite.NewStore(db),
		settings: &fakeSettings{cfg: settings.Defaults().Archive},
		markers:  &fakeMarkers{markers: map[int]*archive.SessionMarker{}},
		perms:    &fakePermissions{granted: true},
		capturer: &fakeCapturer{},
		bus:      events.NewBus(),
	}
	f.svc = archive.NewService(f.store, f.settings, rules.NewEvaluator(logger), f.markers, f.perms, f.capturer, f.bus, logger)
	return f
}

func snapshot(id, windowID int, url, title string) archive.TabSnapshot {
	return archive.TabSnapshot{
		ID:           id,
		WindowID:     windowID,
		Index:        id,
		URL:          url,
		Title:        title,
		LastAccessed: time.Now().UnixMilli(),
	}
}

func TestArchiveTabsEmptySelection(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.ArchiveTabs(context.Background(), nil, 0)
	require.ErrorIs(t, err, archive.ErrNoTabsSelected)
}

func TestArchiveTabsStoresBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := int64(1700000000000)

	tabs := []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
		{Snapshot: snapshot(2, 10, "https://b.example/", "B")},
	}
	archived, minor, err := f.svc.ArchiveTabs(ctx, tabs, date)
	require.NoError(t, err)
	require.Empty(t, minor)
	require.Len(t, archived, 2)

	stored, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, tab := range stored {
		require.Equal(t, []int64{date}, tab.Sessions)
	}

	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, date, sessions[0].CreationDate)
}

func TestArchiveTabsReusesExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := int64(1700000000000)

	_, err := f.svc.CreateSession(ctx, date)
	require.NoError(t, err)

	tabs := []archive.TabToArchive{{Snapshot: snapshot(1, 10, "https://a.example/", "A")}}
	_, _, err = f.svc.ArchiveTabs(ctx, tabs, date)
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestArchiveTabsDuplicateURLUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.NoDuplicateURLs = true
	ctx := context.Background()

	first, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://news.example/", "Old Title")},
	}, 1000)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(2, 11, "https://news.example/", "New Title")},
	}, 2000)
	require.NoError(t, err)
	require.Len(t, second, 1)

	stored, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, first[0].ID, stored[0].ID, "existing row id must survive the merge")
	require.Equal(t, "New Title", stored[0].Title)
	require.ElementsMatch(t, []int64{1000, 2000}, stored[0].Sessions)

	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestArchiveTabsOnlyLatestSessionWins(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.NoDuplicateURLs = true
	f.settings.cfg.OnlyStoreLatestSession = true
	ctx := context.Background()

	_, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://news.example/", "First")},
	}, 1000)
	require.NoError(t, err)

	_, _, err = f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(2, 11, "https://news.example/", "Second")},
	}, 2000)
	require.NoError(t, err)

	stored, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, []int64{2000}, stored[0].Sessions)
	require.Equal(t, "Second", stored[0].Title)

	// The first session lost its only tab and is removed in the same
	// transaction.
	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, int64(2000), sessions[0].CreationDate)
}

func TestArchiveTabsOlderSessionNeverDisplacesNewer(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.NoDuplicateURLs = true
	f.settings.cfg.OnlyStoreLatestSession = true
	ctx := context.Background()

	_, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://news.example/", "Newer")},
	}, 2000)
	require.NoError(t, err)

	_, _, err = f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(2, 11, "https://news.example/", "Older")},
	}, 1000)
	require.NoError(t, err)

	stored, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, []int64{2000}, stored[0].Sessions)
	require.Equal(t, "Newer", stored[0].Title)
}

func TestArchiveTabsCollapsesBatchDuplicates(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.NoDuplicateURLs = true
	ctx := context.Background()

	older := snapshot(1, 10, "https://dup.example/", "Stale")
	older.LastAccessed = 100
	newer := snapshot(2, 10, "https://dup.example/", "Fresh")
	newer.LastAccessed = 300
	middle := snapshot(3, 10, "https://dup.example/", "Mid")
	middle.LastAccessed = 200

	archived, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: older}, {Snapshot: newer}, {Snapshot: middle},
	}, 1000)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "Fresh", archived[0].Title)

	stored, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestArchiveTabsAppliesCategoryRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat, err := f.svc.CreateCategory(ctx, "Mail", "blue", `startsWith(tab.url, "https://mail.")`)
	require.NoError(t, err)

	archived, minor, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://mail.example/inbox", "Inbox")},
		{Snapshot: snapshot(2, 10, "https://docs.example/", "Docs")},
	}, 1000)
	require.NoError(t, err)
	require.Empty(t, minor)

	byURL := map[string]archive.ArchivedTab{}
	for _, tab := range archived {
		byURL[tab.URL] = tab
	}
	require.Equal(t, []string{cat.ID}, byURL["https://mail.example/inbox"].Categories)
	require.Empty(t, byURL["https://docs.example/"].Categories)

	inCat, err := f.svc.TabsForCategory(cat.ID).ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, inCat, 1)
	require.Equal(t, "https://mail.example/inbox", inCat[0].URL)
}

func TestArchiveTabsRuleFailureIsMinor(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.ReportMinorErrors = true
	ctx := context.Background()

	// A broken rule can only enter the store out of band, e.g. written by an
	// older release. It must degrade, not abort.
	err := f.store.Categories().Create(ctx, &archive.Category{
		ID: "broken", Name: "Broken", Color: "red", Rule: `matchRegex(tab.url, "/[/")`,
	})
	require.NoError(t, err)

	archived, minor, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err, "a failing rule must not abort archival")
	require.Len(t, archived, 1)
	require.Empty(t, archived[0].Categories)
	require.NotEmpty(t, minor)
}

func TestArchiveTabsMinorErrorsSuppressedByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.Categories().Create(ctx, &archive.Category{
		ID: "broken", Name: "Broken", Color: "red", Rule: `matchRegex(tab.url, "/[/")`,
	})
	require.NoError(t, err)

	archived, minor, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Nil(t, minor)
}

func TestArchiveTabsResolvesSessionFromMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.markers.markers[10] = &archive.SessionMarker{Version: 1, SessionDate: 5000}

	archived, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
	}, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{5000}, archived[0].Sessions)
}

func TestArchiveTabsFallsBackToNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := time.Now().UnixMilli()
	archived, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 99, "https://a.example/", "A")},
	}, 0)
	require.NoError(t, err)
	require.Len(t, archived[0].Sessions, 1)
	require.GreaterOrEqual(t, archived[0].Sessions[0], before)
}

func TestArchiveTabsCapturesPreviews(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.SavePreviewImages = true
	ctx := context.Background()

	archived, minor, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(7, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)
	require.Empty(t, minor)
	require.Equal(t, "data:image/jpeg;base64,cap7", archived[0].PreviewImageURL)
	require.Equal(t, 1, f.capturer.calls)
}

func TestArchiveTabsSkipsCaptureWithoutPermission(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.SavePreviewImages = true
	f.settings.cfg.ReportMinorErrors = true
	f.perms.granted = false
	ctx := context.Background()

	archived, minor, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(7, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)
	require.Empty(t, archived[0].PreviewImageURL)
	require.NotEmpty(t, minor)
	require.Zero(t, f.capturer.calls)
}

func TestArchiveTabsKeepsSuppliedPreview(t *testing.T) {
	f := newFixture(t)
	f.settings.cfg.SavePreviewImages = true
	ctx := context.Background()

	archived, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(7, 10, "https://a.example/", "A"), PreviewImageURL: "data:image/png;base64,given"},
	}, 1000)
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,given", archived[0].PreviewImageURL)
	require.Zero(t, f.capturer.calls)
}

func TestDeleteTabsRemovesEmptySessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	archived, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTabs(ctx, []string{archived[0].ID}))

	// Session cleanup runs in the background.
	require.Eventually(t, func() bool {
		sessions, err := f.svc.ListSessions(ctx)
		return err == nil && len(sessions) == 0
	}, 2*time.Second, 10*time.Millisecond, "empty session should be cleaned up")
}

func TestDeleteTabsKeepsSharedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	archived, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
		{Snapshot: snapshot(2, 10, "https://b.example/", "B")},
	}, 1000)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTabs(ctx, []string{archived[0].ID}))

	time.Sleep(50 * time.Millisecond)
	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestDeleteArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)

	published := make(chan struct{}, 1)
	f.bus.Subscribe(events.TopicArchiveDeleted, func(payload any) {
		published <- struct{}{}
	})

	require.NoError(t, f.svc.DeleteArchive(ctx))

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("archive deletion was not announced")
	}

	tabs, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Empty(t, tabs)
	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestCreateCategoryDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat, err := f.svc.CreateCategory(ctx, "", "", "")
	require.NoError(t, err)
	require.Equal(t, archive.DefaultCategoryName, cat.Name)
	require.Contains(t, settings.SupportedColors(), cat.Color)
}

func TestCreateCategoryRejectsUnknownColor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCategory(context.Background(), "X", "mauve", "")
	require.ErrorIs(t, err, archive.ErrUnknownColor)
}

func TestCreateCategoryRejectsBadRule(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCategory(context.Background(), "X", "red", "tab.url ===")
	require.Error(t, err)
}

func TestUpdateCategoryPartialPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cat, err := f.svc.CreateCategory(ctx, "Work", "blue", "")
	require.NoError(t, err)

	name := "Projects"
	updated, err := f.svc.UpdateCategory(ctx, cat.ID, archive.CategoryPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Projects", updated.Name)
	require.Equal(t, "blue", updated.Color, "unpatched fields keep their value")
}

func TestUpdateCategoryNotFound(t *testing.T) {
	f := newFixture(t)

	name := "X"
	_, err := f.svc.UpdateCategory(context.Background(), "missing", archive.CategoryPatch{Name: &name})
	require.ErrorIs(t, err, archive.ErrCategoryNotFound)
}

func TestCreateSessionDuplicateDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, 1000)
	require.NoError(t, err)
	_, err = f.svc.CreateSession(ctx, 1000)
	require.ErrorIs(t, err, archive.ErrSessionExists)
}

func TestListCategoriesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateCategory(ctx, "First", "red", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.svc.CreateCategory(ctx, "Second", "blue", "")
	require.NoError(t, err)

	cats, err := f.svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	require.Equal(t, second.ID, cats[0].ID)
	require.Equal(t, first.ID, cats[1].ID)
}

func TestListSessionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, 1000)
	require.NoError(t, err)
	_, err = f.svc.CreateSession(ctx, 2000)
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2000), sessions[0].CreationDate)
	require.Equal(t, int64(1000), sessions[1].CreationDate)
}

func TestFilteredQueryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
		{Snapshot: snapshot(2, 10, "https://b.example/", "B")},
	}, 1000)
	require.NoError(t, err)

	matched := archive.Filtered(f.svc.TabsForSession(1000), func(tab archive.ArchivedTab) bool {
		return tab.URL == "https://b.example/"
	})
	tabs, err := matched.ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	require.Equal(t, "https://b.example/", tabs[0].URL)
}

func TestListTabsArchivalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(5, 10, "https://b.example/", "B")},
		{Snapshot: snapshot(3, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)

	tabs, err := f.svc.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	// Same archival instant and window: the original tab id breaks the tie.
	require.Equal(t, "https://a.example/", tabs[0].URL)
	require.Equal(t, "https://b.example/", tabs[1].URL)
}

func TestCachedTabRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing, err := f.svc.CachedTab(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, missing)

	cached := &archive.CachedTab{
		TabID:       42,
		SessionDate: 1000,
		Metadata:    snapshot(42, 10, "https://a.example/", "A"),
	}
	require.NoError(t, f.svc.PutCachedTab(ctx, cached))

	got, err := f.svc.CachedTab(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, cached, got)

	require.NoError(t, f.svc.DeleteCachedTabs(ctx, []int{42}))
	gone, err := f.svc.CachedTab(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestLiveQueryFollowsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results := make(chan int, 16)
	lq := archive.NewLiveQuery(f.store, []string{archive.TableTabs},
		func(ctx context.Context) ([]archive.ArchivedTab, error) {
			return f.svc.ListTabs(ctx)
		},
		func(tabs []archive.ArchivedTab, err error) {
			require.NoError(t, err)
			results <- len(tabs)
		})
	defer lq.Unsubscribe()

	// Initial synthetic notification fires at subscription time.
	require.Equal(t, 0, <-results)

	_, _, err := f.svc.ArchiveTabs(ctx, []archive.TabToArchive{
		{Snapshot: snapshot(1, 10, "https://a.example/", "A")},
	}, 1000)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case n := <-results:
			return n == 1
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
