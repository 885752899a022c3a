package archive

import (
	"context"

	"github.com/ametzler/tabvault/internal/domain/settings"
)

// SettingsProvider supplies the current archive policy.
type SettingsProvider interface {
	Archive(ctx context.Context) (settings.ArchiveSettings, error)
}

// RuleMatcher evaluates auto-catch rules against tab snapshots.
type RuleMatcher interface {
	Matches(tab TabSnapshot, rule string) (bool, error)
	Validate(rule string) error
}

// SessionMarker is the per-window persisted tag recording which session date
// is currently active for that window.
type SessionMarker struct {
	Version     int   `json:"version"`
	SessionDate int64 `json:"sessionDate"`
}

// SessionMarkerReader reads the session marker of a window, if any.
type SessionMarkerReader interface {
	Marker(ctx context.Context, windowID int) (*SessionMarker, error)
}

// PermissionChecker reports whether the broad content-access permission is
// currently granted. Permissions can be revoked between sessions, so the
// check is repeated on every capture attempt.
type PermissionChecker interface {
	Granted(ctx context.Context) (bool, error)
}

// CaptureOptions configure a preview-image capture.
type CaptureOptions struct {
	Format  string
	Quality int
	Scale   float64
}

// Capturer captures a tab's visible content as a data URL. Capturing a
// discarded or not-currently-open tab fails.
type Capturer interface {
	CaptureTab(ctx context.Context, tabID int, opts CaptureOptions) (string, error)
}
