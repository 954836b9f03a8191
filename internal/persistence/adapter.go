package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"media-queue/internal/domain"
	"media-queue/internal/repository"
)

const DefaultTimeout = 5 * time.Second

type Options struct {
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Adapter snapshots task store state to a SnapshotRepository and restores it.
type Adapter struct {
	repo    repository.SnapshotRepository
	timeout time.Duration
	logger  *logrus.Logger
	now     func() time.Time
}

func NewAdapter(repo repository.SnapshotRepository, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Adapter{
		repo:    repo,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// Save writes the full snapshot. Failures are returned as *domain.PersistenceError.
func (a *Adapter) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := Encode(snap, a.now())
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.repo.SaveSnapshot(ctx, data); err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Load reads the stored snapshot and applies the restart policy: jobs that
// were downloading come back paused, since no transfer survives a restart.
// found is false when nothing was stored yet.
func (a *Adapter) Load(ctx context.Context) (snap domain.Snapshot, found bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, err := a.repo.LoadSnapshot(ctx)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, &domain.PersistenceError{Op: "load", Err: err}
	}

	snap, err = Decode(data)
	if err != nil {
		return domain.Snapshot{}, false, &domain.PersistenceError{Op: "decode", Err: err}
	}

	demoted := 0
	now := a.now()
	for i := range snap.Jobs {
		if snap.Jobs[i].Status == domain.JobStatusDownloading {
			snap.Jobs[i].Status = domain.JobStatusPaused
			snap.Jobs[i].UpdatedAt = now
			demoted++
		}
	}
	if demoted > 0 {
		a.logger.Infof("restored %d interrupted downloads as paused", demoted)
	}

	return snap, true, nil
}
