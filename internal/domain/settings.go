package domain

import (
	"strings"
	"time"
)

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Settings holds the user preferences persisted alongside the jobs.
type Settings struct {
	DownloadPath  string
	Quality       Quality
	Theme         Theme
	AutoDownload  bool
	Notifications bool
	AutoSync      bool
}

func DefaultSettings() Settings {
	return Settings{
		DownloadPath:  "/downloads",
		Quality:       QualityHigh,
		Theme:         ThemeDark,
		AutoDownload:  true,
		Notifications: true,
		AutoSync:      false,
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.DownloadPath) == "" {
		return &ValidationError{Field: "downloadPath", Reason: "is required"}
	}
	switch s.Quality {
	case QualityLow, QualityMedium, QualityHigh, QualityUltra:
	default:
		return &ValidationError{Field: "quality", Reason: "must be one of low, medium, high, ultra"}
	}
	switch s.Theme {
	case ThemeDark, ThemeLight:
	default:
		return &ValidationError{Field: "theme", Reason: "must be dark or light"}
	}
	return nil
}

// SettingsPatch is a partial settings update. Nil fields are left untouched.
type SettingsPatch struct {
	DownloadPath  *string
	Quality       *Quality
	Theme         *Theme
	AutoDownload  *bool
	Notifications *bool
	AutoSync      *bool
}

func (s Settings) Apply(p SettingsPatch) (Settings, error) {
	next := s
	if p.DownloadPath != nil {
		next.DownloadPath = strings.TrimSpace(*p.DownloadPath)
	}
	if p.Quality != nil {
		next.Quality = *p.Quality
	}
	if p.Theme != nil {
		next.Theme = *p.Theme
	}
	if p.AutoDownload != nil {
		next.AutoDownload = *p.AutoDownload
	}
	if p.Notifications != nil {
		next.Notifications = *p.Notifications
	}
	if p.AutoSync != nil {
		next.AutoSync = *p.AutoSync
	}
	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}

// MaxSearchHistory bounds the remembered search queries.
const MaxSearchHistory = 10

// PushSearch returns history with query moved to the front, deduplicated and trimmed.
func PushSearch(history []string, query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return history
	}
	out := make([]string, 0, MaxSearchHistory)
	out = append(out, query)
	for _, q := range history {
		if q == query {
			continue
		}
		if len(out) == MaxSearchHistory {
			break
		}
		out = append(out, q)
	}
	return out
}

// Favorite is a bookmarked media item.
type Favorite struct {
	ID       string
	Title    string
	URL      string
	Platform string
	AddedAt  time.Time
}

func (f Favorite) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	return nil
}

// PushFavorite returns favorites with f at the front, replacing any entry with the same id.
func PushFavorite(favorites []Favorite, f Favorite) []Favorite {
	out := make([]Favorite, 0, len(favorites)+1)
	out = append(out, f)
	for _, existing := range favorites {
		if existing.ID != f.ID {
			out = append(out, existing)
		}
	}
	return out
}

// Snapshot is the full persisted state of the store.
type Snapshot struct {
	Jobs          []Job
	Settings      Settings
	SearchHistory []string
	Favorites     []Favorite
}
