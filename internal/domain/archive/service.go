package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ametzler/tabvault/internal/domain/settings"
	"github.com/ametzler/tabvault/internal/events"
	"github.com/ametzler/tabvault/internal/sortkey"
)

// DefaultCategoryName is used when a category is created without a name.
const DefaultCategoryName = "New Category"

// Service implements archive operations.
type Service struct {
	store       Store
	settings    SettingsProvider
	matcher     RuleMatcher
	markers     SessionMarkerReader
	permissions PermissionChecker
	capturer    Capturer
	bus         *events.Bus
	logger      *slog.Logger
}

// NewService creates a new archive service. markers, permissions and capturer
// may be nil when the corresponding browser collaborator is unavailable.
func NewService(store Store, settingsProvider SettingsProvider, matcher RuleMatcher, markers SessionMarkerReader, permissions PermissionChecker, capturer Capturer, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		settings:    settingsProvider,
		matcher:     matcher,
		markers:     markers,
		permissions: permissions,
		capturer:    capturer,
		bus:         bus,
		logger:      logger,
	}
}

// CreateCategory creates a category. An empty name defaults to
// DefaultCategoryName and an empty color picks a random palette color. A
// non-empty rule must compile.
func (s *Service) CreateCategory(ctx context.Context, name, color, rule string) (*Category, error) {
	if name == "" {
		name = DefaultCategoryName
	}
	palette := settings.SupportedColors()
	if color == "" {
		color = palette[rand.IntN(len(palette))]
	} else if !contains(palette, color) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColor, color)
	}
	if rule != "" {
		if err := s.matcher.Validate(rule); err != nil {
			return nil, fmt.Errorf("validating rule: %w", err)
		}
	}

	cat := &Category{
		ID:      uuid.NewString(),
		Name:    name,
		Color:   color,
		Rule:    rule,
		SortKey: sortkey.Scalar(time.Now().UnixMilli()),
	}
	if err := s.store.Categories().Create(ctx, cat); err != nil {
		return nil, fmt.Errorf("creating category: %w", err)
	}
	return cat, nil
}

// CategoryPatch holds the fields of a category update. Nil fields are left
// unchanged.
type CategoryPatch struct {
	Name  *string
	Color *string
	Rule  *string
}

// UpdateCategory applies a partial update to a category.
func (s *Service) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (*Category, error) {
	cat, err := s.store.Categories().Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("loading category: %w", err)
	}

	if patch.Name != nil {
		cat.Name = *patch.Name
	}
	if patch.Color != nil {
		if !contains(settings.SupportedColors(), *patch.Color) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColor, *patch.Color)
		}
		cat.Color = *patch.Color
	}
	if patch.Rule != nil {
		if *patch.Rule != "" {
			if err := s.matcher.Validate(*patch.Rule); err != nil {
				return nil, fmt.Errorf("validating rule: %w", err)
			}
		}
		cat.Rule = *patch.Rule
	}

	if err := s.store.Categories().Update(ctx, cat); err != nil {
		return nil, fmt.Errorf("updating category: %w", err)
	}
	return cat, nil
}

// GetCategory returns a category by id.
func (s *Service) GetCategory(ctx context.Context, id string) (*Category, error) {
	cat, err := s.store.Categories().Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("loading category: %w", err)
	}
	return cat, nil
}

// DeleteCategory deletes a category. Tabs referencing it merely lose the
// membership; the tabs themselves remain.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.Categories().Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("deleting category: %w", err)
	}
	return nil
}

// ListCategories returns all categories, newest first.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	cats, err := s.store.Categories().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	cmp := sortkey.Reversed(sortkey.Compare)
	sort.SliceStable(cats, func(i, j int) bool {
		return cmp(cats[i].SortKey, cats[j].SortKey) < 0
	})
	return cats, nil
}

// GetCategoriesWithAutoCatchRules returns the categories carrying a non-empty
// rule, newest first.
func (s *Service) GetCategoriesWithAutoCatchRules(ctx context.Context) ([]Category, error) {
	cats, err := s.store.Categories().ListWithRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rule categories: %w", err)
	}
	cmp := sortkey.Reversed(sortkey.Compare)
	sort.SliceStable(cats, func(i, j int) bool {
		return cmp(cats[i].SortKey, cats[j].SortKey) < 0
	})
	return cats, nil
}

// CreateSession creates a session. A zero date means now. Creating a session
// whose date already exists fails with ErrSessionExists.
func (s *Service) CreateSession(ctx context.Context, date int64) (*Session, error) {
	if date == 0 {
		date = time.Now().UnixMilli()
	}
	sess := &Session{
		CreationDate: date,
		SortKey:      sortkey.Scalar(date),
	}
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %d", ErrSessionExists, date)
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// DeleteSession deletes a session. Tabs referencing it lose the membership.
func (s *Service) DeleteSession(ctx context.Context, date int64) error {
	if err := s.store.Sessions().Delete(ctx, date); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ListSessions returns all sessions, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	sessions, err := s.store.Sessions().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	cmp := sortkey.Reversed(sortkey.Compare)
	sort.SliceStable(sessions, func(i, j int) bool {
		return cmp(sessions[i].SortKey, sessions[j].SortKey) < 0
	})
	return sessions, nil
}

// ListTabs returns all archived tabs in archival order.
func (s *Service) ListTabs(ctx context.Context) ([]ArchivedTab, error) {
	tabs, err := s.store.Tabs().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}
	sortTabs(tabs)
	return tabs, nil
}

// GetTab returns an archived tab by id.
func (s *Service) GetTab(ctx context.Context, id string) (*ArchivedTab, error) {
	tab, err := s.store.Tabs().Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("tab %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading tab: %w", err)
	}
	return tab, nil
}

// TabsForCategory returns a queryable over the tabs of one category, in
// archival order.
func (s *Service) TabsForCategory(categoryID string) Queryable[ArchivedTab] {
	return QueryFunc[ArchivedTab](func(ctx context.Context) ([]ArchivedTab, error) {
		tabs, err := s.store.Tabs().ListByCategory(ctx, categoryID)
		if err != nil {
			return nil, fmt.Errorf("listing category tabs: %w", err)
		}
		sortTabs(tabs)
		return tabs, nil
	})
}

// TabsForSession returns a queryable over the tabs of one session, in
// archival order.
func (s *Service) TabsForSession(date int64) Queryable[ArchivedTab] {
	return QueryFunc[ArchivedTab](func(ctx context.Context) ([]ArchivedTab, error) {
		tabs, err := s.store.Tabs().ListBySession(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("listing session tabs: %w", err)
		}
		sortTabs(tabs)
		return tabs, nil
	})
}

// DeleteTabs deletes archived tabs by id. Sessions left without any tab are
// cleaned up in the background.
func (s *Service) DeleteTabs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	dates, err := s.store.Tabs().SessionRefs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolving session refs: %w", err)
	}
	if err := s.store.Tabs().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting tabs: %w", err)
	}
	s.scheduleSessionCleanup(dates)
	return nil
}

// DeleteArchive wipes every archive table and announces the wipe on the bus
// so dependent caches can rebuild.
func (s *Service) DeleteArchive(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing archive: %w", err)
	}
	s.bus.Publish(events.TopicArchiveDeleted, nil)
	return nil
}

// CachedTab returns one live-tab cache row, or nil when none exists.
func (s *Service) CachedTab(ctx context.Context, tabID int) (*CachedTab, error) {
	tab, err := s.store.CachedTabs().Get(ctx, tabID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading cached tab: %w", err)
	}
	return tab, nil
}

// PutCachedTab upserts a live-tab cache row.
func (s *Service) PutCachedTab(ctx context.Context, tab *CachedTab) error {
	if err := s.store.CachedTabs().Put(ctx, tab); err != nil {
		return fmt.Errorf("caching tab: %w", err)
	}
	return nil
}

// DeleteCachedTabs removes live-tab cache rows.
func (s *Service) DeleteCachedTabs(ctx context.Context, tabIDs []int) error {
	if len(tabIDs) == 0 {
		return nil
	}
	if err := s.store.CachedTabs().Delete(ctx, tabIDs); err != nil {
		return fmt.Errorf("deleting cached tabs: %w", err)
	}
	return nil
}

// ListCachedTabs returns every live-tab cache row.
func (s *Service) ListCachedTabs(ctx context.Context) ([]CachedTab, error) {
	tabs, err := s.store.CachedTabs().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cached tabs: %w", err)
	}
	return tabs, nil
}

// ClearCachedTabs empties the live-tab cache.
func (s *Service) ClearCachedTabs(ctx context.Context) error {
	if err := s.store.CachedTabs().Clear(ctx); err != nil {
		return fmt.Errorf("clearing cached tabs: %w", err)
	}
	return nil
}

// scheduleSessionCleanup deletes the given sessions in the background if they
// no longer have any tabs. Failures are logged, never surfaced.
func (s *Service) scheduleSessionCleanup(dates []int64) {
	if len(dates) == 0 {
		return
	}
	go func() {
		ctx := context.Background()
		for _, date := range dates {
			count, err := s.store.Sessions().TabCount(ctx, date)
			if err != nil {
				s.logger.Warn("session cleanup check failed", "session", date, "error", err)
				continue
			}
			if count > 0 {
				continue
			}
			if err := s.store.Sessions().Delete(ctx, date); err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("session cleanup failed", "session", date, "error", err)
			}
		}
	}()
}

// sortTabs orders tabs by archival order: time of archival first, then window,
// then the original tab position within the window.
func sortTabs(tabs []ArchivedTab) {
	sort.SliceStable(tabs, func(i, j int) bool {
		return sortkey.Compare(tabs[i].SortKey, tabs[j].SortKey) < 0
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
