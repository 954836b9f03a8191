package domain

import "time"

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusDownloading: true,
	},
	JobStatusDownloading: {
		JobStatusPaused:    true,
		JobStatusCompleted: true,
		JobStatusError:     true,
	},
	JobStatusPaused: {
		JobStatusDownloading: true,
	},
	JobStatusCompleted: {},
	JobStatusError:     {},
}

// CanTransition reports whether a status change is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// CanReset reports whether a job in this status may be explicitly reset to pending.
func CanReset(from JobStatus) bool {
	return from == JobStatusError || from == JobStatusPaused
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status          *JobStatus
	Progress        *int
	SizeBytes       *int64
	ThumbnailRef    *string
	ErrorMessage    *string
	LocalPath       *string
	ArchiveLocation *string
	Torrent         *TorrentStats
}

func (p JobPatch) Empty() bool {
	return p.Status == nil && p.Progress == nil && p.SizeBytes == nil &&
		p.ThumbnailRef == nil && p.ErrorMessage == nil && p.LocalPath == nil &&
		p.ArchiveLocation == nil && p.Torrent == nil
}

// ApplyPatch returns the job that results from applying p to current, or the
// reason the patch breaks the job invariants. current is never modified.
func ApplyPatch(current Job, p JobPatch, now time.Time) (Job, error) {
	next := current.Clone()

	if p.Status != nil && *p.Status != current.Status {
		if !p.Status.Valid() {
			return current, &ValidationError{Field: "status", Reason: "unknown status " + string(*p.Status)}
		}
		if !CanTransition(current.Status, *p.Status) {
			return current, &InvalidTransitionError{ID: current.ID, From: current.Status, To: *p.Status}
		}
		next.Status = *p.Status
	}

	if p.Progress != nil {
		progress := *p.Progress
		if progress < 0 || progress > 100 {
			return current, &InvalidTransitionError{ID: current.ID, From: current.Status, To: next.Status, Reason: "progress must be within [0,100]"}
		}
		if progress != current.Progress {
			switch next.Status {
			case JobStatusDownloading:
				if progress < current.Progress {
					return current, &InvalidTransitionError{ID: current.ID, From: current.Status, To: next.Status, Reason: "progress must not decrease while downloading"}
				}
			case JobStatusCompleted:
			default:
				return current, &InvalidTransitionError{ID: current.ID, From: current.Status, To: next.Status, Reason: "progress is frozen in status " + string(next.Status)}
			}
		}
		next.Progress = progress
	} else if next.Status == JobStatusCompleted {
		next.Progress = 100
	}

	if (next.Status == JobStatusCompleted) != (next.Progress == 100) {
		return current, &InvalidTransitionError{ID: current.ID, From: current.Status, To: next.Status, Reason: "progress is 100 exactly when completed"}
	}

	if p.SizeBytes != nil {
		if *p.SizeBytes < 0 {
			return current, &ValidationError{Field: "sizeBytes", Reason: "must not be negative"}
		}
		next.SizeBytes = *p.SizeBytes
	}
	if p.ThumbnailRef != nil {
		next.ThumbnailRef = *p.ThumbnailRef
	}
	if p.ErrorMessage != nil {
		next.ErrorMessage = *p.ErrorMessage
	}
	if p.LocalPath != nil {
		next.LocalPath = *p.LocalPath
	}
	if p.ArchiveLocation != nil {
		next.ArchiveLocation = *p.ArchiveLocation
	}
	if p.Torrent != nil {
		if current.Kind != JobKindTorrent {
			return current, &ValidationError{Field: "torrent", Reason: "swarm stats apply to torrent jobs only"}
		}
		stats := *p.Torrent
		next.Torrent = &stats
	}

	// swarm figures only describe a live transfer
	if next.Kind == JobKindTorrent && next.Status != JobStatusDownloading {
		next.Torrent = &TorrentStats{}
	}

	next.UpdatedAt = now
	return next, nil
}

// Reset returns current moved back to pending with its progress cleared.
func Reset(current Job, now time.Time) (Job, error) {
	if !CanReset(current.Status) {
		return current, &InvalidTransitionError{ID: current.ID, From: current.Status, To: JobStatusPending, Reason: "only failed or paused jobs can be reset"}
	}
	next := current.Clone()
	next.Status = JobStatusPending
	next.Progress = 0
	next.ErrorMessage = ""
	next.UpdatedAt = now
	if next.Kind == JobKindTorrent {
		next.Torrent = &TorrentStats{}
	}
	return next, nil
}

// CheckInvariants validates a stored record, e.g. one read back from a snapshot.
func CheckInvariants(j Job) error {
	if j.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if err := (JobSpec{Title: j.Title, SourceURL: j.SourceURL, Platform: j.Platform, Kind: j.Kind}).Validate(); err != nil {
		return err
	}
	if !j.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(j.Status)}
	}
	if j.Progress < 0 || j.Progress > 100 {
		return &ValidationError{Field: "progress", Reason: "must be within [0,100]"}
	}
	if (j.Status == JobStatusCompleted) != (j.Progress == 100) {
		return &ValidationError{Field: "progress", Reason: "is 100 exactly when completed"}
	}
	if j.CreatedAt.IsZero() {
		return &ValidationError{Field: "createdAt", Reason: "is required"}
	}
	return nil
}
