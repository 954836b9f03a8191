package downloader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"media-queue/internal/domain"
	"media-queue/internal/service"
)

// ErrCancelTimeout is returned by Cancel when a worker does not acknowledge
// in time. The worker keeps its slot until it exits.
var ErrCancelTimeout = errors.New("worker did not acknowledge cancellation")

// errJobGone stops a transfer whose job was paused or removed under it.
var errJobGone = errors.New("job no longer downloading")

type Config struct {
	// MaxConcurrent defaults to the store's cap.
	MaxConcurrent int
	TickInterval  time.Duration
	CancelTimeout time.Duration
	UpdateTimeout time.Duration
	Logger        *logrus.Logger
	Metrics       *Metrics
}

// Manager promotes pending jobs and runs one worker per downloading job,
// forwarding worker progress to the store.
type Manager struct {
	cfg      Config
	store    service.JobStore
	transfer Transfer

	wake        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	loopDone    chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	workers map[domain.JobID]*worker
}

type worker struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

func NewManager(cfg Config, store service.JobStore, transfer Transfer) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = store.MaxActive()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 10 * time.Second
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		transfer: transfer,
		wake:     make(chan struct{}, 1),
		workers:  make(map[domain.JobID]*worker),
	}
}

// Start launches the scheduling loop. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	if m.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.loopDone = make(chan struct{})
	m.unsubscribe = m.store.OnChange(func(service.Change) { m.poke() })

	go m.loop()
	m.poke()
	m.cfg.Logger.Infof("scheduler started, max concurrent: %d", m.cfg.MaxConcurrent)
	return nil
}

// Shutdown stops the loop and every worker. Jobs are left downloading and are
// demoted to paused on the next restore.
func (m *Manager) Shutdown() {
	if m.cancel == nil {
		return
	}
	m.unsubscribe()
	m.cancel()
	<-m.loopDone
	m.wg.Wait()
	m.cfg.Logger.Info("scheduler stopped")
}

// ActiveCount is the number of live workers, including ones still stopping.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Cancel signals the worker for id and waits for it to exit. The job keeps
// its status; the scheduler stops workers itself when a job leaves downloading.
func (m *Manager) Cancel(ctx context.Context, id domain.JobID) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	if ok {
		w.stopping = true
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job %s: %w", id, ErrCancelTimeout)
	}
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) loop() {
	defer close(m.loopDone)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.reconcile()
	}
}

// reconcile runs one scheduling pass: stop workers whose job left
// downloading, attach workers to resumed jobs, then promote pending jobs
// oldest first while slots are free.
func (m *Manager) reconcile() {
	jobs := m.store.List()
	byID := make(map[domain.JobID]domain.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	m.stopWorkers(m.stale(byID))

	for _, job := range jobs {
		if job.Status != domain.JobStatusDownloading || m.hasWorker(job.ID) {
			continue
		}
		if !m.spawn(job) {
			m.cfg.Logger.WithField("job_id", job.ID).Warn("no free worker slot for downloading job")
		}
	}

	if !m.store.Settings().AutoDownload {
		return
	}
	for _, job := range pendingFIFO(jobs) {
		if m.freeSlots() == 0 || m.ctx.Err() != nil {
			return
		}
		err := m.store.Promote(m.ctx, job.ID)
		if err != nil && !errors.Is(err, domain.ErrPersistence) {
			var invalid *domain.InvalidTransitionError
			if errors.As(err, &invalid) && invalid.From == domain.JobStatusPending {
				// store cap reached
				return
			}
			// removed, paused or started by someone else since List
			continue
		}
		m.cfg.Metrics.promoted()
		promoted, gerr := m.store.Get(job.ID)
		if gerr != nil {
			continue
		}
		m.cfg.Logger.WithField("job_id", job.ID).Infof("promoted %q", job.Title)
		m.spawn(promoted)
	}
}

// stopWorkers signals every listed worker at once, then waits for all of
// them under one CancelTimeout deadline. A worker that misses the deadline
// keeps its slot until it exits.
func (m *Manager) stopWorkers(ids []domain.JobID) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	stopping := make(map[domain.JobID]*worker, len(ids))
	for _, id := range ids {
		if w, ok := m.workers[id]; ok {
			w.stopping = true
			stopping[id] = w
		}
	}
	m.mu.Unlock()

	for _, w := range stopping {
		w.cancel()
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CancelTimeout)
	defer cancel()
	for id, w := range stopping {
		select {
		case <-w.done:
			continue
		case <-ctx.Done():
		}
		select {
		case <-w.done:
			continue
		default:
		}
		if m.ctx.Err() != nil {
			return
		}
		m.cfg.Metrics.cancelTimedOut()
		m.cfg.Logger.WithField("job_id", id).Warnf("stop worker: %v", ErrCancelTimeout)
	}
}

// stale lists workers whose job was paused, finished or removed and that
// have not been asked to stop yet.
func (m *Manager) stale(byID map[domain.JobID]domain.Job) []domain.JobID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []domain.JobID
	for id, w := range m.workers {
		if w.stopping {
			continue
		}
		if job, ok := byID[id]; !ok || job.Status != domain.JobStatusDownloading {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) hasWorker(id domain.JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[id]
	return ok
}

func (m *Manager) freeSlots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return max(m.cfg.MaxConcurrent-len(m.workers), 0)
}

func (m *Manager) spawn(job domain.Job) bool {
	m.mu.Lock()
	if len(m.workers) >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	m.workers[job.ID] = w
	m.mu.Unlock()

	m.cfg.Metrics.workerStarted()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			if m.workers[job.ID] == w {
				delete(m.workers, job.ID)
			}
			m.mu.Unlock()
			close(w.done)
			m.cfg.Metrics.workerStopped()
			m.poke()
		}()
		m.run(ctx, job)
	}()
	return true
}

func (m *Manager) run(ctx context.Context, job domain.Job) {
	logger := m.cfg.Logger.WithField("job_id", job.ID)
	logger.Infof("transfer started at %d%%", job.Progress)

	last := job.Progress
	report := func(p Progress) error {
		percent := min(max(p.Percent, last), 99)
		last = percent
		return m.forward(ctx, job, percent, p)
	}

	res, err := m.transfer.Transfer(ctx, job, report)
	switch {
	case ctx.Err() != nil, errors.Is(err, errJobGone):
		logger.Info("transfer stopped")
	case err != nil:
		m.fail(job.ID, err)
	default:
		m.complete(job.ID, res)
	}
}

func (m *Manager) forward(ctx context.Context, job domain.Job, percent int, p Progress) error {
	patch := domain.JobPatch{Progress: &percent}
	if p.SizeBytes > 0 {
		patch.SizeBytes = &p.SizeBytes
	}
	if p.LocalPath != "" {
		patch.LocalPath = &p.LocalPath
	}
	if job.Kind == domain.JobKindTorrent {
		patch.Torrent = &domain.TorrentStats{SpeedBytesPerSec: p.SpeedBytesPerSec, Peers: p.Peers, Seeds: p.Seeds}
	}

	uctx, cancel := context.WithTimeout(ctx, m.cfg.UpdateTimeout)
	defer cancel()
	err := m.store.Update(uctx, job.ID, patch)
	switch {
	case err == nil:
		m.cfg.Metrics.tick()
		return nil
	case errors.Is(err, domain.ErrPersistence):
		m.cfg.Logger.WithField("job_id", job.ID).Warnf("progress not persisted: %v", err)
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		return errJobGone
	default:
		return err
	}
}

func (m *Manager) complete(id domain.JobID, res Result) {
	logger := m.cfg.Logger.WithField("job_id", id)
	status := domain.JobStatusCompleted
	patch := domain.JobPatch{Status: &status}
	if res.LocalPath != "" {
		patch.LocalPath = &res.LocalPath
	}
	if res.ArchiveLocation != "" {
		patch.ArchiveLocation = &res.ArchiveLocation
	}
	if res.SizeBytes > 0 {
		patch.SizeBytes = &res.SizeBytes
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UpdateTimeout)
	defer cancel()
	if err := m.store.Update(ctx, id, patch); err != nil && !errors.Is(err, domain.ErrPersistence) {
		logger.Warnf("mark completed: %v", err)
		return
	}
	m.cfg.Metrics.finished(string(domain.JobStatusCompleted))
	logger.Info("download completed")
}

func (m *Manager) fail(id domain.JobID, cause error) {
	failure := &domain.WorkerFailure{ID: id, Err: cause}
	logger := m.cfg.Logger.WithField("job_id", id)

	status := domain.JobStatusError
	msg := cause.Error()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UpdateTimeout)
	defer cancel()
	if err := m.store.Update(ctx, id, domain.JobPatch{Status: &status, ErrorMessage: &msg}); err != nil && !errors.Is(err, domain.ErrPersistence) {
		logger.Warnf("mark failed: %v", err)
		return
	}
	m.cfg.Metrics.finished(string(domain.JobStatusError))
	logger.Error(failure.Error())
}

// pendingFIFO returns pending jobs ordered by creation time, oldest first.
// jobs is in store order, newest first.
func pendingFIFO(jobs []domain.Job) []domain.Job {
	var pending []domain.Job
	for i := len(jobs) - 1; i >= 0; i-- {
		if jobs[i].Status == domain.JobStatusPending {
			pending = append(pending, jobs[i])
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}
