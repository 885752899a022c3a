package archive

import "github.com/ametzler/tabvault/internal/sortkey"

// Category groups archived tabs. A category with a non-empty Rule is
// auto-applied to tabs whose snapshot matches the rule expression.
type Category struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Color   string      `json:"color"`
	Rule    string      `json:"rule,omitempty"`
	SortKey sortkey.Key `json:"sortkey"`
}

// Session is a cohesive archival batch. The creation date is the natural
// unique key; there is no synthetic id.
type Session struct {
	CreationDate int64       `json:"creationdate"`
	SortKey      sortkey.Key `json:"sortkey"`
}

// TabSnapshot is the metadata captured from a live browser tab. It is stored
// opaquely alongside the archived row and is the context rules evaluate
// against.
type TabSnapshot struct {
	ID           int    `json:"id"`
	WindowID     int    `json:"windowId"`
	Index        int    `json:"index"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Pinned       bool   `json:"pinned"`
	Hidden       bool   `json:"hidden"`
	Active       bool   `json:"active"`
	Highlighted  bool   `json:"highlighted"`
	Discarded    bool   `json:"discarded"`
	FavIconURL   string `json:"favIconUrl,omitempty"`
	LastAccessed int64  `json:"lastAccessed"`
}

// ArchivedTab is one persisted archive row.
type ArchivedTab struct {
	ID              string      `json:"id"`
	URL             string      `json:"url"`
	Title           string      `json:"title"`
	Categories      []string    `json:"categories"`
	Sessions        []int64     `json:"sessions"`
	Metadata        TabSnapshot `json:"metadata"`
	SortKey         sortkey.Key `json:"sortkey"`
	PreviewImageURL string      `json:"previewimageurl,omitempty"`
}

// MaxSession returns the numerically largest session date referenced by the
// tab, or 0 if it references none.
func (t *ArchivedTab) MaxSession() int64 {
	var max int64
	for _, d := range t.Sessions {
		if d > max {
			max = d
		}
	}
	return max
}

// CachedTab mirrors a currently-open tab. It substitutes for the missing
// "before close" browser hook: after a restart, cache rows whose session date
// no longer matches the live session identify tabs that were never archived
// on close.
type CachedTab struct {
	TabID                 int         `json:"id"`
	SessionDate           int64       `json:"sessiondate"`
	Metadata              TabSnapshot `json:"metadata"`
	PreviewImageURL       string      `json:"previewimageurl,omitempty"`
	ClosedThroughArchival bool        `json:"closedthrougharchival"`
}

// TabToArchive is one input to ArchiveTabs. SessionDate 0 means "resolve from
// the window marker, falling back to now". PreviewImageURL carries an already
// captured image (the reconciler path for tabs that are no longer open).
type TabToArchive struct {
	Snapshot        TabSnapshot
	SessionDate     int64
	PreviewImageURL string
}
