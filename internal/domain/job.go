package domain

import (
	"strings"
	"time"
)

// JobID identifies a job for the lifetime of the store.
type JobID string

type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusPaused      JobStatus = "paused"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusError       JobStatus = "error"
)

// AllStatuses lists every job status in display order.
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusDownloading,
	JobStatusPaused,
	JobStatusCompleted,
	JobStatusError,
}

func (s JobStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Active reports whether a job in this status holds a concurrency slot.
func (s JobStatus) Active() bool {
	return s == JobStatusDownloading
}

// JobKind tags the variant of a job record.
type JobKind string

const (
	JobKindDownload JobKind = "download"
	JobKindTorrent  JobKind = "torrent"
)

func (k JobKind) Valid() bool {
	return k == JobKindDownload || k == JobKindTorrent
}

// Job is a single trackable unit of download work.
type Job struct {
	ID              JobID
	Kind            JobKind
	Title           string
	SourceURL       string
	Platform        string
	Status          JobStatus
	Progress        int
	SizeBytes       int64
	ThumbnailRef    string
	ErrorMessage    string
	LocalPath       string
	ArchiveLocation string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Torrent         *TorrentStats
}

// TorrentStats carries live swarm figures for torrent jobs. They are
// recomputed on every tick and never persisted.
type TorrentStats struct {
	SpeedBytesPerSec int64
	Peers            int
	Seeds            int
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	if j.Torrent != nil {
		stats := *j.Torrent
		j.Torrent = &stats
	}
	return j
}

// JobSpec is the caller's request to create a job.
type JobSpec struct {
	Title        string
	SourceURL    string
	Platform     string
	Kind         JobKind
	SizeBytes    int64
	ThumbnailRef string
}

// Validate checks the required fields of a creation request.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(s.SourceURL) == "" {
		return &ValidationError{Field: "sourceUrl", Reason: "is required"}
	}
	if strings.TrimSpace(s.Platform) == "" {
		return &ValidationError{Field: "platform", Reason: "is required"}
	}
	if s.Kind != "" && !s.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "must be download or torrent"}
	}
	if s.SizeBytes < 0 {
		return &ValidationError{Field: "sizeBytes", Reason: "must not be negative"}
	}
	return nil
}

// ResolveKind returns the explicit kind or infers one from the source.
func (s JobSpec) ResolveKind() JobKind {
	if s.Kind != "" {
		return s.Kind
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s.SourceURL)), "magnet:") ||
		strings.EqualFold(strings.TrimSpace(s.Platform), "torrent") {
		return JobKindTorrent
	}
	return JobKindDownload
}

// NewJob builds a fresh pending job from a validated spec.
func NewJob(id JobID, spec JobSpec, now time.Time) Job {
	job := Job{
		ID:           id,
		Kind:         spec.ResolveKind(),
		Title:        strings.TrimSpace(spec.Title),
		SourceURL:    strings.TrimSpace(spec.SourceURL),
		Platform:     strings.TrimSpace(spec.Platform),
		Status:       JobStatusPending,
		Progress:     0,
		SizeBytes:    spec.SizeBytes,
		ThumbnailRef: spec.ThumbnailRef,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if job.Kind == JobKindTorrent {
		job.Torrent = &TorrentStats{}
	}
	return job
}
