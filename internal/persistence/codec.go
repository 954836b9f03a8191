package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"media-queue/internal/domain"
)

// SchemaVersion is the snapshot layout written by this build.
const SchemaVersion = 1

type document struct {
	Version       int              `json:"version"`
	SavedAt       time.Time        `json:"savedAt"`
	Jobs          []jobRecord      `json:"jobs"`
	Settings      settingsRecord   `json:"settings"`
	SearchHistory []string         `json:"searchHistory"`
	Favorites     []favoriteRecord `json:"favorites"`
}

type jobRecord struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Title           string    `json:"title"`
	SourceURL       string    `json:"sourceUrl"`
	Platform        string    `json:"platform"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	SizeBytes       int64     `json:"sizeBytes,omitempty"`
	ThumbnailRef    string    `json:"thumbnailRef,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	LocalPath       string    `json:"localPath,omitempty"`
	ArchiveLocation string    `json:"archiveLocation,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type settingsRecord struct {
	DownloadPath  string `json:"downloadPath"`
	Quality       string `json:"quality"`
	Theme         string `json:"theme"`
	AutoDownload  bool   `json:"autoDownload"`
	Notifications bool   `json:"notifications"`
	AutoSync      bool   `json:"autoSync"`
}

type favoriteRecord struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	URL      string    `json:"url,omitempty"`
	Platform string    `json:"platform,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
}

// Encode serializes a snapshot. Swarm statistics are transient and not written.
func Encode(s domain.Snapshot, savedAt time.Time) ([]byte, error) {
	doc := document{
		Version:       SchemaVersion,
		SavedAt:       savedAt.UTC(),
		Jobs:          make([]jobRecord, len(s.Jobs)),
		SearchHistory: append([]string{}, s.SearchHistory...),
		Favorites:     make([]favoriteRecord, len(s.Favorites)),
		Settings: settingsRecord{
			DownloadPath:  s.Settings.DownloadPath,
			Quality:       string(s.Settings.Quality),
			Theme:         string(s.Settings.Theme),
			AutoDownload:  s.Settings.AutoDownload,
			Notifications: s.Settings.Notifications,
			AutoSync:      s.Settings.AutoSync,
		},
	}
	for i, job := range s.Jobs {
		doc.Jobs[i] = jobRecord{
			ID:              string(job.ID),
			Kind:            string(job.Kind),
			Title:           job.Title,
			SourceURL:       job.SourceURL,
			Platform:        job.Platform,
			Status:          string(job.Status),
			Progress:        job.Progress,
			SizeBytes:       job.SizeBytes,
			ThumbnailRef:    job.ThumbnailRef,
			ErrorMessage:    job.ErrorMessage,
			LocalPath:       job.LocalPath,
			ArchiveLocation: job.ArchiveLocation,
			CreatedAt:       job.CreatedAt.UTC(),
			UpdatedAt:       job.UpdatedAt.UTC(),
		}
	}
	for i, fav := range s.Favorites {
		doc.Favorites[i] = favoriteRecord{
			ID:       fav.ID,
			Title:    fav.Title,
			URL:      fav.URL,
			Platform: fav.Platform,
			AddedAt:  fav.AddedAt.UTC(),
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Decode parses and validates a snapshot written by Encode.
func Decode(data []byte) (domain.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if doc.Version < 1 || doc.Version > SchemaVersion {
		return domain.Snapshot{}, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}

	settings := domain.Settings{
		DownloadPath:  doc.Settings.DownloadPath,
		Quality:       domain.Quality(doc.Settings.Quality),
		Theme:         domain.Theme(doc.Settings.Theme),
		AutoDownload:  doc.Settings.AutoDownload,
		Notifications: doc.Settings.Notifications,
		AutoSync:      doc.Settings.AutoSync,
	}
	if err := settings.Validate(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot settings: %w", err)
	}

	snap := domain.Snapshot{
		Jobs:          make([]domain.Job, 0, len(doc.Jobs)),
		Settings:      settings,
		SearchHistory: doc.SearchHistory,
		Favorites:     make([]domain.Favorite, 0, len(doc.Favorites)),
	}

	seen := make(map[domain.JobID]struct{}, len(doc.Jobs))
	for i, rec := range doc.Jobs {
		job := domain.Job{
			ID:              domain.JobID(rec.ID),
			Kind:            domain.JobKind(rec.Kind),
			Title:           rec.Title,
			SourceURL:       rec.SourceURL,
			Platform:        rec.Platform,
			Status:          domain.JobStatus(rec.Status),
			Progress:        rec.Progress,
			SizeBytes:       rec.SizeBytes,
			ThumbnailRef:    rec.ThumbnailRef,
			ErrorMessage:    rec.ErrorMessage,
			LocalPath:       rec.LocalPath,
			ArchiveLocation: rec.ArchiveLocation,
			CreatedAt:       rec.CreatedAt,
			UpdatedAt:       rec.UpdatedAt,
		}
		if job.Kind == "" {
			job.Kind = domain.JobSpec{SourceURL: job.SourceURL, Platform: job.Platform}.ResolveKind()
		}
		if err := domain.CheckInvariants(job); err != nil {
			return domain.Snapshot{}, fmt.Errorf("snapshot job %d: %w", i, err)
		}
		if _, dup := seen[job.ID]; dup {
			return domain.Snapshot{}, fmt.Errorf("snapshot job %d: duplicate id %s", i, job.ID)
		}
		seen[job.ID] = struct{}{}
		if job.Kind == domain.JobKindTorrent {
			job.Torrent = &domain.TorrentStats{}
		}
		snap.Jobs = append(snap.Jobs, job)
	}

	for _, rec := range doc.Favorites {
		snap.Favorites = append(snap.Favorites, domain.Favorite{
			ID:       rec.ID,
			Title:    rec.Title,
			URL:      rec.URL,
			Platform: rec.Platform,
			AddedAt:  rec.AddedAt,
		})
	}

	return snap, nil
}
