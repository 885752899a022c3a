// Package settings persists the user-configurable archive and open behavior
// options. Persisted blobs written by older versions are patched with
// defaults on load, so newly introduced keys always have a value without
// ever overwriting what the user already chose.
package settings

// SettingsVersion is the current shape version of the persisted blob.
const SettingsVersion = 2

// Settings is the full in-memory configuration.
type Settings struct {
	Version int             `json:"version"`
	Archive ArchiveSettings `json:"archiveSettings"`
	Open    OpenSettings    `json:"openSettings"`
}

// ArchiveSettings controls what gets archived and how.
type ArchiveSettings struct {
	ArchiveHiddenTabs            bool    `json:"archiveHiddenTabs"`
	ArchivePinnedTabs            bool    `json:"archivePinnedTabs"`
	NoDuplicateURLs              bool    `json:"noDuplicateUrls"`
	OnlyStoreLatestSession       bool    `json:"onlyStoreLatestSession"`
	AutoCloseArchivedTabs        bool    `json:"autoCloseArchivedTabs"`
	ArchiveTabOnClose            bool    `json:"archiveTabOnClose"`
	ArchiveAllTabsOnBrowserClose bool    `json:"archiveAllTabsOnBrowserClose"`
	SavePreviewImages            bool    `json:"savePreviewImages"`
	PreviewImageFormat           string  `json:"previewImageFormat"`
	PreviewImageQuality          int     `json:"previewImageQuality"`
	PreviewImageScale            float64 `json:"previewImageScale"`
	ReportMinorErrors            bool    `json:"reportMinorErrors"`
	CurrentSessionDate           int64   `json:"currentSessionDate"`
}

// OpenSettings controls re-opening archived tabs.
type OpenSettings struct {
	DeleteTabsUponOpen bool   `json:"deleteTabsUponOpen"`
	TabOpenPosition    string `json:"tabOpenPosition"`
	ConfirmTabDeletion bool   `json:"confirmTabDeletion"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Version: SettingsVersion,
		Archive: ArchiveSettings{
			ArchiveHiddenTabs:            false,
			ArchivePinnedTabs:            false,
			NoDuplicateURLs:              true,
			OnlyStoreLatestSession:       false,
			AutoCloseArchivedTabs:        false,
			ArchiveTabOnClose:            false,
			ArchiveAllTabsOnBrowserClose: false,
			SavePreviewImages:            false,
			PreviewImageFormat:           "jpeg",
			PreviewImageQuality:          75,
			PreviewImageScale:            0.25,
			ReportMinorErrors:            false,
			CurrentSessionDate:           0,
		},
		Open: OpenSettings{
			DeleteTabsUponOpen: false,
			TabOpenPosition:    "end",
			ConfirmTabDeletion: true,
		},
	}
}

// supportedColors is the fixed category palette.
var supportedColors = []string{
	"red", "orange", "amber", "yellow", "lime", "green", "teal",
	"cyan", "blue", "indigo", "violet", "pink", "grey",
}

// SupportedColors returns the fixed 13-color category palette. The returned
// slice is a copy.
func SupportedColors() []string {
	out := make([]string, len(supportedColors))
	copy(out, supportedColors)
	return out
}
