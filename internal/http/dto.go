package http

import (
	"time"

	"media-queue/internal/domain"
	"media-queue/internal/storage"
)

type createJobRequest struct {
	Title        string `json:"title"`
	SourceURL    string `json:"sourceUrl"`
	Platform     string `json:"platform"`
	Kind         string `json:"kind"`
	SizeBytes    int64  `json:"sizeBytes"`
	ThumbnailRef string `json:"thumbnailRef"`
}

func (r createJobRequest) toSpec() domain.JobSpec {
	return domain.JobSpec{
		Title:        r.Title,
		SourceURL:    r.SourceURL,
		Platform:     r.Platform,
		Kind:         domain.JobKind(r.Kind),
		SizeBytes:    r.SizeBytes,
		ThumbnailRef: r.ThumbnailRef,
	}
}

type patchJobRequest struct {
	Status       *string `json:"status"`
	Progress     *int    `json:"progress"`
	ErrorMessage *string `json:"errorMessage"`
	ThumbnailRef *string `json:"thumbnailRef"`
}

func (r patchJobRequest) toPatch() domain.JobPatch {
	var patch domain.JobPatch
	if r.Status != nil {
		status := domain.JobStatus(*r.Status)
		patch.Status = &status
	}
	patch.Progress = r.Progress
	patch.ErrorMessage = r.ErrorMessage
	patch.ThumbnailRef = r.ThumbnailRef
	return patch
}

type TorrentResponse struct {
	SpeedBytesPerSec int64 `json:"speed"`
	Peers            int   `json:"peers"`
	Seeds            int   `json:"seeds"`
}

type JobResponse struct {
	ID              string           `json:"id"`
	Kind            domain.JobKind   `json:"kind"`
	Title           string           `json:"title"`
	SourceURL       string           `json:"sourceUrl"`
	Platform        string           `json:"platform"`
	Status          domain.JobStatus `json:"status"`
	Progress        int              `json:"progress"`
	SizeBytes       int64            `json:"sizeBytes"`
	ThumbnailRef    string           `json:"thumbnailRef,omitempty"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	LocalPath       string           `json:"localPath,omitempty"`
	ArchiveLocation string           `json:"archiveLocation,omitempty"`
	Torrent         *TorrentResponse `json:"torrent,omitempty"`
	CreatedAt       string           `json:"createdAt"`
	UpdatedAt       string           `json:"updatedAt"`
}

func jobToResponse(job domain.Job) JobResponse {
	resp := JobResponse{
		ID:              string(job.ID),
		Kind:            job.Kind,
		Title:           job.Title,
		SourceURL:       job.SourceURL,
		Platform:        job.Platform,
		Status:          job.Status,
		Progress:        job.Progress,
		SizeBytes:       job.SizeBytes,
		ThumbnailRef:    job.ThumbnailRef,
		ErrorMessage:    job.ErrorMessage,
		LocalPath:       job.LocalPath,
		ArchiveLocation: job.ArchiveLocation,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Torrent != nil {
		resp.Torrent = &TorrentResponse{
			SpeedBytesPerSec: job.Torrent.SpeedBytesPerSec,
			Peers:            job.Torrent.Peers,
			Seeds:            job.Torrent.Seeds,
		}
	}
	return resp
}

type SettingsResponse struct {
	DownloadPath  string `json:"downloadPath"`
	Quality       string `json:"quality"`
	Theme         string `json:"theme"`
	AutoDownload  bool   `json:"autoDownload"`
	Notifications bool   `json:"notifications"`
	AutoSync      bool   `json:"autoSync"`
}

func settingsToResponse(s domain.Settings) SettingsResponse {
	return SettingsResponse{
		DownloadPath:  s.DownloadPath,
		Quality:       string(s.Quality),
		Theme:         string(s.Theme),
		AutoDownload:  s.AutoDownload,
		Notifications: s.Notifications,
		AutoSync:      s.AutoSync,
	}
}

type patchSettingsRequest struct {
	DownloadPath  *string `json:"downloadPath"`
	Quality       *string `json:"quality"`
	Theme         *string `json:"theme"`
	AutoDownload  *bool   `json:"autoDownload"`
	Notifications *bool   `json:"notifications"`
	AutoSync      *bool   `json:"autoSync"`
}

func (r patchSettingsRequest) toPatch() domain.SettingsPatch {
	patch := domain.SettingsPatch{
		DownloadPath:  r.DownloadPath,
		AutoDownload:  r.AutoDownload,
		Notifications: r.Notifications,
		AutoSync:      r.AutoSync,
	}
	if r.Quality != nil {
		q := domain.Quality(*r.Quality)
		patch.Quality = &q
	}
	if r.Theme != nil {
		t := domain.Theme(*r.Theme)
		patch.Theme = &t
	}
	return patch
}

type favoriteRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Platform string `json:"platform"`
}

func (r favoriteRequest) toFavorite() domain.Favorite {
	return domain.Favorite{ID: r.ID, Title: r.Title, URL: r.URL, Platform: r.Platform}
}

type FavoriteResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Platform string `json:"platform,omitempty"`
	AddedAt  string `json:"addedAt"`
}

func favoritesToResponse(favs []domain.Favorite) []FavoriteResponse {
	resp := make([]FavoriteResponse, len(favs))
	for i, f := range favs {
		resp[i] = FavoriteResponse{
			ID:       f.ID,
			Title:    f.Title,
			URL:      f.URL,
			Platform: f.Platform,
			AddedAt:  f.AddedAt.UTC().Format(time.RFC3339),
		}
	}
	return resp
}

type ObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"lastModified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) ObjectResponse {
	resp := ObjectResponse{Key: obj.Key, Size: obj.Size}
	if obj.LastModified != nil {
		ts := obj.LastModified.UTC().Format(time.RFC3339)
		resp.LastModified = &ts
	}
	return resp
}
