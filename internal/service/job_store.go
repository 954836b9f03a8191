package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-queue/internal/domain"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeUpdated  ChangeType = "updated"
	ChangeRemoved  ChangeType = "removed"
	ChangeSettings ChangeType = "settings"
	ChangeRestored ChangeType = "restored"
)

// Change describes one committed mutation. Job is a copy of the record after
// the change and is nil for removals and store-wide changes.
type Change struct {
	Type  ChangeType
	JobID domain.JobID
	Job   *domain.Job
}

// Persister is the snapshot sink the store writes through to.
type Persister interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context) (domain.Snapshot, bool, error)
}

// JobStore is the authoritative collection of download jobs.
type JobStore interface {
	Add(ctx context.Context, spec domain.JobSpec) (domain.JobID, error)
	Update(ctx context.Context, id domain.JobID, patch domain.JobPatch) error
	Remove(ctx context.Context, id domain.JobID) error
	Get(id domain.JobID) (domain.Job, error)
	List() []domain.Job
	Toggle(ctx context.Context, id domain.JobID) (domain.JobStatus, error)
	Retry(ctx context.Context, id domain.JobID) error
	Promote(ctx context.Context, id domain.JobID) error
	Settings() domain.Settings
	UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error)
	AddSearch(ctx context.Context, query string) error
	SearchHistory() []string
	AddFavorite(ctx context.Context, fav domain.Favorite) error
	RemoveFavorite(ctx context.Context, id string) error
	Favorites() []domain.Favorite
	OnChange(fn func(Change)) (unsubscribe func())
	MaxActive() int
}

const DefaultMaxActive = 3

type StoreOptions struct {
	// MaxActive caps how many jobs may be downloading at once.
	MaxActive int
	Logger    *logrus.Logger
	Now       func() time.Time
	NewID     func() domain.JobID
}

// Store keeps jobs in memory, most recent first, and writes every committed
// mutation through to its Persister while holding the store lock.
type Store struct {
	persister Persister
	maxActive int
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() domain.JobID

	mu        sync.Mutex
	jobs      []domain.Job
	settings  domain.Settings
	history   []string
	favorites []domain.Favorite

	subsMu  sync.RWMutex
	subs    map[int]func(Change)
	nextSub int
}

// NewJobStore returns an empty store. persister may be nil for a purely
// in-memory store.
func NewJobStore(persister Persister, opts StoreOptions) *Store {
	if opts.MaxActive <= 0 {
		opts.MaxActive = DefaultMaxActive
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() domain.JobID { return domain.JobID(uuid.NewString()) }
	}
	return &Store{
		persister: persister,
		maxActive: opts.MaxActive,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		settings:  domain.DefaultSettings(),
		subs:      make(map[int]func(Change)),
	}
}

// Restore replaces the in-memory state with the persisted snapshot. When the
// snapshot cannot be read the store is reset to empty and the
// *domain.PersistenceError is returned.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	snap, found, err := s.persister.Load(ctx)
	switch {
	case err != nil:
		s.logger.Warnf("restore snapshot, starting empty: %v", err)
		s.resetLocked()
	case !found:
		s.resetLocked()
	default:
		s.jobs = snap.Jobs
		s.settings = snap.Settings
		s.history = snap.SearchHistory
		s.favorites = snap.Favorites
	}
	count := len(s.jobs)
	s.mu.Unlock()

	if err == nil {
		s.logger.Infof("restored %d jobs", count)
	}
	s.notify(Change{Type: ChangeRestored})
	return err
}

func (s *Store) resetLocked() {
	s.jobs = nil
	s.settings = domain.DefaultSettings()
	s.history = nil
	s.favorites = nil
}

func (s *Store) Add(ctx context.Context, spec domain.JobSpec) (domain.JobID, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	id := s.newID()
	for s.indexLocked(id) >= 0 {
		id = s.newID()
	}
	job := domain.NewJob(id, spec, s.now())
	s.jobs = append([]domain.Job{job}, s.jobs...)
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notifyJob(ChangeAdded, job)
	return id, perr
}

func (s *Store) Update(ctx context.Context, id domain.JobID, patch domain.JobPatch) error {
	_, err := s.mutate(ctx, id, func(current domain.Job) (domain.Job, error) {
		return domain.ApplyPatch(current, patch, s.now())
	})
	return err
}

// mutate applies fn to the job under the store lock, enforces the
// concurrency cap, writes through and then notifies subscribers. A
// *domain.PersistenceError is returned alongside the committed job.
func (s *Store) mutate(ctx context.Context, id domain.JobID, fn func(domain.Job) (domain.Job, error)) (domain.Job, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Job{}, &domain.NotFoundError{ID: id}
	}
	current := s.jobs[idx]
	next, err := fn(current)
	if err == nil {
		err = s.admitLocked(current, next)
	}
	if err != nil {
		s.mu.Unlock()
		return current.Clone(), err
	}
	s.jobs[idx] = next
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notifyJob(ChangeUpdated, next)
	return next.Clone(), perr
}

// Remove deletes a job. Unknown ids are a no-op.
func (s *Store) Remove(ctx context.Context, id domain.JobID) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	s.jobs = append(s.jobs[:idx:idx], s.jobs[idx+1:]...)
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notify(Change{Type: ChangeRemoved, JobID: id})
	return perr
}

func (s *Store) Get(id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Job{}, &domain.NotFoundError{ID: id}
	}
	return s.jobs[idx].Clone(), nil
}

// List returns a copy of every job, most recent first.
func (s *Store) List() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, len(s.jobs))
	for i := range s.jobs {
		out[i] = s.jobs[i].Clone()
	}
	return out
}

// Toggle flips a job between downloading and paused and returns the new status.
func (s *Store) Toggle(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	job, err := s.mutate(ctx, id, func(current domain.Job) (domain.Job, error) {
		var target domain.JobStatus
		switch current.Status {
		case domain.JobStatusDownloading:
			target = domain.JobStatusPaused
		case domain.JobStatusPaused:
			target = domain.JobStatusDownloading
		default:
			return current, &domain.InvalidTransitionError{
				ID: id, From: current.Status, To: domain.JobStatusPaused,
				Reason: "only downloading or paused jobs can be toggled",
			}
		}
		return domain.ApplyPatch(current, domain.JobPatch{Status: &target}, s.now())
	})
	if job.ID == "" {
		return "", err
	}
	return job.Status, err
}

// Retry moves a failed or paused job back to pending with its progress reset.
func (s *Store) Retry(ctx context.Context, id domain.JobID) error {
	_, err := s.mutate(ctx, id, func(current domain.Job) (domain.Job, error) {
		return domain.Reset(current, s.now())
	})
	return err
}

// Promote starts a pending job. Unlike Update it refuses any other current
// status, so a job paused after the caller last looked is left alone.
func (s *Store) Promote(ctx context.Context, id domain.JobID) error {
	_, err := s.mutate(ctx, id, func(current domain.Job) (domain.Job, error) {
		if current.Status != domain.JobStatusPending {
			return current, &domain.InvalidTransitionError{
				ID: id, From: current.Status, To: domain.JobStatusDownloading,
				Reason: "only pending jobs can be promoted",
			}
		}
		target := domain.JobStatusDownloading
		return domain.ApplyPatch(current, domain.JobPatch{Status: &target}, s.now())
	})
	return err
}

func (s *Store) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Store) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	s.mu.Lock()
	next, err := s.settings.Apply(patch)
	if err != nil {
		current := s.settings
		s.mu.Unlock()
		return current, err
	}
	s.settings = next
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notify(Change{Type: ChangeSettings})
	return next, perr
}

func (s *Store) AddSearch(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return &domain.ValidationError{Field: "query", Reason: "is required"}
	}
	s.mu.Lock()
	s.history = domain.PushSearch(s.history, query)
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notify(Change{Type: ChangeSettings})
	return perr
}

func (s *Store) SearchHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.history...)
}

func (s *Store) AddFavorite(ctx context.Context, fav domain.Favorite) error {
	if err := fav.Validate(); err != nil {
		return err
	}
	if fav.AddedAt.IsZero() {
		fav.AddedAt = s.now()
	}
	s.mu.Lock()
	s.favorites = domain.PushFavorite(s.favorites, fav)
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notify(Change{Type: ChangeSettings})
	return perr
}

// RemoveFavorite drops a favorite. Unknown ids are a no-op.
func (s *Store) RemoveFavorite(ctx context.Context, id string) error {
	s.mu.Lock()
	kept := s.favorites[:0:0]
	for _, fav := range s.favorites {
		if fav.ID != id {
			kept = append(kept, fav)
		}
	}
	if len(kept) == len(s.favorites) {
		s.mu.Unlock()
		return nil
	}
	s.favorites = kept
	perr := s.commitLocked(ctx)
	s.mu.Unlock()

	s.notify(Change{Type: ChangeSettings})
	return perr
}

func (s *Store) Favorites() []domain.Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Favorite{}, s.favorites...)
}

func (s *Store) MaxActive() int { return s.maxActive }

// OnChange registers fn to run after every committed mutation. fn runs on
// the mutating goroutine after the store lock is released and must not block.
func (s *Store) OnChange(fn func(Change)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notifyJob(t ChangeType, job domain.Job) {
	copied := job.Clone()
	s.notify(Change{Type: t, JobID: job.ID, Job: &copied})
}

func (s *Store) notify(c Change) {
	s.subsMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// admitLocked enforces the concurrency cap on transitions into downloading.
func (s *Store) admitLocked(current, next domain.Job) error {
	if current.Status == domain.JobStatusDownloading || next.Status != domain.JobStatusDownloading {
		return nil
	}
	if s.activeLocked() >= s.maxActive {
		return &domain.InvalidTransitionError{
			ID: current.ID, From: current.Status, To: next.Status,
			Reason: "concurrency cap reached",
		}
	}
	return nil
}

func (s *Store) activeLocked() int {
	n := 0
	for i := range s.jobs {
		if s.jobs[i].Status.Active() {
			n++
		}
	}
	return n
}

func (s *Store) indexLocked(id domain.JobID) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) commitLocked(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, s.snapshotLocked()); err != nil {
		s.logger.Errorf("persist task store: %v", err)
		return err
	}
	return nil
}

func (s *Store) snapshotLocked() domain.Snapshot {
	jobs := make([]domain.Job, len(s.jobs))
	for i := range s.jobs {
		jobs[i] = s.jobs[i].Clone()
	}
	return domain.Snapshot{
		Jobs:          jobs,
		Settings:      s.settings,
		SearchHistory: append([]string{}, s.history...),
		Favorites:     append([]domain.Favorite{}, s.favorites...),
	}
}

var _ JobStore = (*Store)(nil)
