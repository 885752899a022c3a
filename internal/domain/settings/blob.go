package settings

import "encoding/json"

// blob is the persisted form of Settings. Every leaf is a pointer so that a
// key missing from an older persisted shape is distinguishable from a zero
// value; patchDefaults fills only the truly absent ones. Unknown keys are
// carried through round trips untouched (stale keys are never pruned).
type blob struct {
	Version *int         `json:"version,omitempty"`
	Archive *archiveBlob `json:"archiveSettings,omitempty"`
	Open    *openBlob    `json:"openSettings,omitempty"`

	extra map[string]json.RawMessage
}

type archiveBlob struct {
	ArchiveHiddenTabs            *bool    `json:"archiveHiddenTabs,omitempty"`
	ArchivePinnedTabs            *bool    `json:"archivePinnedTabs,omitempty"`
	NoDuplicateURLs              *bool    `json:"noDuplicateUrls,omitempty"`
	OnlyStoreLatestSession       *bool    `json:"onlyStoreLatestSession,omitempty"`
	AutoCloseArchivedTabs        *bool    `json:"autoCloseArchivedTabs,omitempty"`
	ArchiveTabOnClose            *bool    `json:"archiveTabOnClose,omitempty"`
	ArchiveAllTabsOnBrowserClose *bool    `json:"archiveAllTabsOnBrowserClose,omitempty"`
	SavePreviewImages            *bool    `json:"savePreviewImages,omitempty"`
	PreviewImageFormat           *string  `json:"previewImageFormat,omitempty"`
	PreviewImageQuality          *int     `json:"previewImageQuality,omitempty"`
	PreviewImageScale            *float64 `json:"previewImageScale,omitempty"`
	ReportMinorErrors            *bool    `json:"reportMinorErrors,omitempty"`
	CurrentSessionDate           *int64   `json:"currentSessionDate,omitempty"`
}

type openBlob struct {
	DeleteTabsUponOpen *bool   `json:"deleteTabsUponOpen,omitempty"`
	TabOpenPosition    *string `json:"tabOpenPosition,omitempty"`
	ConfirmTabDeletion *bool   `json:"confirmTabDeletion,omitempty"`
}

// knownKeys are the recognized top-level sections; anything else in the
// persisted document is preserved verbatim in extra.
var knownKeys = map[string]bool{
	"version":         true,
	"archiveSettings": true,
	"openSettings":    true,
}

func decodeBlob(data []byte) (*blob, error) {
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for k := range raw {
		if knownKeys[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		b.extra = raw
	}
	return &b, nil
}

func (b *blob) encode() ([]byte, error) {
	known, err := json.Marshal(struct {
		Version *int         `json:"version,omitempty"`
		Archive *archiveBlob `json:"archiveSettings,omitempty"`
		Open    *openBlob    `json:"openSettings,omitempty"`
	}{b.Version, b.Archive, b.Open})
	if err != nil {
		return nil, err
	}
	if len(b.extra) == 0 {
		return known, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(known, &doc); err != nil {
		return nil, err
	}
	for k, v := range b.extra {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// patchDefaults recursively fills absent keys from the defaults. Keys that
// are present keep their persisted value, even when it equals a default.
func (b *blob) patchDefaults(d Settings) {
	if b.Version == nil {
		v := d.Version
		b.Version = &v
	}
	if b.Archive == nil {
		b.Archive = &archiveBlob{}
	}
	b.Archive.patchDefaults(d.Archive)
	if b.Open == nil {
		b.Open = &openBlob{}
	}
	b.Open.patchDefaults(d.Open)
}

func (a *archiveBlob) patchDefaults(d ArchiveSettings) {
	setBool(&a.ArchiveHiddenTabs, d.ArchiveHiddenTabs)
	setBool(&a.ArchivePinnedTabs, d.ArchivePinnedTabs)
	setBool(&a.NoDuplicateURLs, d.NoDuplicateURLs)
	setBool(&a.OnlyStoreLatestSession, d.OnlyStoreLatestSession)
	setBool(&a.AutoCloseArchivedTabs, d.AutoCloseArchivedTabs)
	setBool(&a.ArchiveTabOnClose, d.ArchiveTabOnClose)
	setBool(&a.ArchiveAllTabsOnBrowserClose, d.ArchiveAllTabsOnBrowserClose)
	setBool(&a.SavePreviewImages, d.SavePreviewImages)
	setString(&a.PreviewImageFormat, d.PreviewImageFormat)
	setInt(&a.PreviewImageQuality, d.PreviewImageQuality)
	setFloat(&a.PreviewImageScale, d.PreviewImageScale)
	setBool(&a.ReportMinorErrors, d.ReportMinorErrors)
	setInt64(&a.CurrentSessionDate, d.CurrentSessionDate)
}

func (o *openBlob) patchDefaults(d OpenSettings) {
	setBool(&o.DeleteTabsUponOpen, d.DeleteTabsUponOpen)
	setString(&o.TabOpenPosition, d.TabOpenPosition)
	setBool(&o.ConfirmTabDeletion, d.ConfirmTabDeletion)
}

// materialize converts the patched persisted form into the typed view. Must
// be called after patchDefaults.
func (b *blob) materialize() Settings {
	return Settings{
		Version: *b.Version,
		Archive: ArchiveSettings{
			ArchiveHiddenTabs:            *b.Archive.ArchiveHiddenTabs,
			ArchivePinnedTabs:            *b.Archive.ArchivePinnedTabs,
			NoDuplicateURLs:              *b.Archive.NoDuplicateURLs,
			OnlyStoreLatestSession:       *b.Archive.OnlyStoreLatestSession,
			AutoCloseArchivedTabs:        *b.Archive.AutoCloseArchivedTabs,
			ArchiveTabOnClose:            *b.Archive.ArchiveTabOnClose,
			ArchiveAllTabsOnBrowserClose: *b.Archive.ArchiveAllTabsOnBrowserClose,
			SavePreviewImages:            *b.Archive.SavePreviewImages,
			PreviewImageFormat:           *b.Archive.PreviewImageFormat,
			PreviewImageQuality:          *b.Archive.PreviewImageQuality,
			PreviewImageScale:            *b.Archive.PreviewImageScale,
			ReportMinorErrors:            *b.Archive.ReportMinorErrors,
			CurrentSessionDate:           *b.Archive.CurrentSessionDate,
		},
		Open: OpenSettings{
			DeleteTabsUponOpen: *b.Open.DeleteTabsUponOpen,
			TabOpenPosition:    *b.Open.TabOpenPosition,
			ConfirmTabDeletion: *b.Open.ConfirmTabDeletion,
		},
	}
}

// fromSettings builds the persisted form of an in-memory Settings, keeping
// any unknown keys from the previous blob.
func fromSettings(s Settings, prev *blob) *blob {
	b := &blob{
		Version: &s.Version,
		Archive: &archiveBlob{
			ArchiveHiddenTabs:            &s.Archive.ArchiveHiddenTabs,
			ArchivePinnedTabs:            &s.Archive.ArchivePinnedTabs,
			NoDuplicateURLs:              &s.Archive.NoDuplicateURLs,
			OnlyStoreLatestSession:       &s.Archive.OnlyStoreLatestSession,
			AutoCloseArchivedTabs:        &s.Archive.AutoCloseArchivedTabs,
			ArchiveTabOnClose:            &s.Archive.ArchiveTabOnClose,
			ArchiveAllTabsOnBrowserClose: &s.Archive.ArchiveAllTabsOnBrowserClose,
			SavePreviewImages:            &s.Archive.SavePreviewImages,
			PreviewImageFormat:           &s.Archive.PreviewImageFormat,
			PreviewImageQuality:          &s.Archive.PreviewImageQuality,
			PreviewImageScale:            &s.Archive.PreviewImageScale,
			ReportMinorErrors:            &s.Archive.ReportMinorErrors,
			CurrentSessionDate:           &s.Archive.CurrentSessionDate,
		},
		Open: &openBlob{
			DeleteTabsUponOpen: &s.Open.DeleteTabsUponOpen,
			TabOpenPosition:    &s.Open.TabOpenPosition,
			ConfirmTabDeletion: &s.Open.ConfirmTabDeletion,
		},
	}
	if prev != nil {
		b.extra = prev.extra
	}
	return b
}

func setBool(dst **bool, v bool) {
	if *dst == nil {
		*dst = &v
	}
}

func setString(dst **string, v string) {
	if *dst == nil {
		*dst = &v
	}
}

func setInt(dst **int, v int) {
	if *dst == nil {
		*dst = &v
	}
}

func setInt64(dst **int64, v int64) {
	if *dst == nil {
		*dst = &v
	}
}

func setFloat(dst **float64, v float64) {
	if *dst == nil {
		*dst = &v
	}
}
