package archive

import "errors"

var (
	// ErrNoTabsSelected indicates an archival call with an empty selection.
	ErrNoTabsSelected = errors.New("no tabs selected for archival")
	// ErrCategoryNotFound indicates the category doesn't exist.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrSessionNotFound indicates the session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates a session with the same creation date
	// already exists.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnknownColor indicates a color outside the supported palette.
	ErrUnknownColor = errors.New("unsupported category color")
)
