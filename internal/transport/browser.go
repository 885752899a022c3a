package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/reconcile"
)

// WindowSnapshot is one browser window as reported by the extension.
type WindowSnapshot struct {
	ID       int                    `json:"id"`
	TabCount int                    `json:"tabCount"`
	Marker   *archive.SessionMarker `json:"marker,omitempty"`
	Tabs     []archive.TabSnapshot  `json:"tabs"`
}

// OpenTabAction asks the extension to open a tab.
type OpenTabAction struct {
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
}

// BrowserActions are the mutations the extension must apply after a
// reconciliation request. The host cannot touch the browser directly, so
// marker stamps and tab closures travel back in the reply.
type BrowserActions struct {
	Markers      map[int]archive.SessionMarker `json:"markers,omitempty"`
	ClosedTabIDs []int                         `json:"closedTabIds,omitempty"`
	OpenedTabs   []OpenTabAction               `json:"openedTabs,omitempty"`
}

// BrowserState is the host-side mirror of the extension's window snapshot.
// It implements the reconciler's browser interface: reads serve from the
// snapshot, writes are recorded as pending actions for the extension.
type BrowserState struct {
	mu      sync.Mutex
	windows []reconcile.Window
	tabs    map[int][]archive.TabSnapshot
	markers map[int]*archive.SessionMarker
	actions BrowserActions
}

// NewBrowserState creates an empty BrowserState.
func NewBrowserState() *BrowserState {
	return &BrowserState{
		tabs:    map[int][]archive.TabSnapshot{},
		markers: map[int]*archive.SessionMarker{},
	}
}

// Load replaces the mirrored snapshot.
func (s *BrowserState) Load(snapshot []WindowSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = s.windows[:0]
	s.tabs = map[int][]archive.TabSnapshot{}
	s.markers = map[int]*archive.SessionMarker{}
	for _, win := range snapshot {
		count := win.TabCount
		if count == 0 {
			count = len(win.Tabs)
		}
		s.windows = append(s.windows, reconcile.Window{ID: win.ID, TabCount: count})
		s.tabs[win.ID] = win.Tabs
		s.markers[win.ID] = win.Marker
	}
}

// Drain returns the pending actions and resets them.
func (s *BrowserState) Drain() BrowserActions {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.actions
	s.actions = BrowserActions{}
	return out
}

func (s *BrowserState) Windows(ctx context.Context) ([]reconcile.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reconcile.Window, len(s.windows))
	copy(out, s.windows)
	return out, nil
}

func (s *BrowserState) Tabs(ctx context.Context, windowID int) ([]archive.TabSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[windowID], nil
}

func (s *BrowserState) OpenTab(ctx context.Context, windowID int, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions.OpenedTabs = append(s.actions.OpenedTabs, OpenTabAction{WindowID: windowID, URL: url})
	return nil
}

func (s *BrowserState) CloseTabs(ctx context.Context, tabIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions.ClosedTabIDs = append(s.actions.ClosedTabIDs, tabIDs...)
	closing := map[int]bool{}
	for _, id := range tabIDs {
		closing[id] = true
	}
	for winID, tabs := range s.tabs {
		var kept []archive.TabSnapshot
		for _, tab := range tabs {
			if !closing[tab.ID] {
				kept = append(kept, tab)
			}
		}
		s.tabs[winID] = kept
	}
	return nil
}

func (s *BrowserState) Marker(ctx context.Context, windowID int) (*archive.SessionMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers[windowID], nil
}

func (s *BrowserState) SetMarker(ctx context.Context, windowID int, marker archive.SessionMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[windowID] = &marker
	if s.actions.Markers == nil {
		s.actions.Markers = map[int]archive.SessionMarker{}
	}
	s.actions.Markers[windowID] = marker
	return nil
}

// RegisterReconciler exposes the reconciliation flow over the wire. The
// extension sends its browser snapshot (or single tab events) and applies the
// returned actions.
func (d *Dispatcher) RegisterReconciler(rec *reconcile.Reconciler, state *BrowserState) {
	d.register("reconcile.startup", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Windows []WindowSnapshot `json:"windows"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		state.Load(p.Windows)
		if err := rec.Startup(ctx); err != nil {
			return nil, err
		}
		return state.Drain(), nil
	})

	d.register("reconcile.tabCreated", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Tab archive.TabSnapshot `json:"tab"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		rec.HandleTabCreated(ctx, p.Tab)
		return state.Drain(), nil
	})

	d.register("reconcile.tabUpdated", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Tab archive.TabSnapshot `json:"tab"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		rec.HandleTabUpdated(ctx, p.Tab)
		return state.Drain(), nil
	})

	d.register("reconcile.tabRemoved", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			TabID         int  `json:"tabId"`
			WindowClosing bool `json:"windowClosing"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		rec.HandleTabRemoved(ctx, p.TabID, p.WindowClosing)
		return state.Drain(), nil
	})
}
