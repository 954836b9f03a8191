package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-queue/internal/domain"
)

type fakePersister struct {
	mu      sync.Mutex
	saves   int
	last    domain.Snapshot
	saveErr error
	loaded  *domain.Snapshot
	loadErr error
}

func (f *fakePersister) Save(_ context.Context, snap domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return &domain.PersistenceError{Op: "save", Err: f.saveErr}
	}
	f.last = snap
	return nil
}

func (f *fakePersister) Load(context.Context) (domain.Snapshot, bool, error) {
	if f.loadErr != nil {
		return domain.Snapshot{}, false, &domain.PersistenceError{Op: "decode", Err: f.loadErr}
	}
	if f.loaded == nil {
		return domain.Snapshot{}, false, nil
	}
	return *f.loaded, true, nil
}

func (f *fakePersister) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func newTestStore(t *testing.T, p Persister, maxActive int) *Store {
	t.Helper()
	seq := 0
	return NewJobStore(p, StoreOptions{
		MaxActive: maxActive,
		NewID: func() domain.JobID {
			seq++
			return domain.JobID(fmt.Sprintf("job-%d", seq))
		},
	})
}

func spec(title string) domain.JobSpec {
	return domain.JobSpec{Title: title, SourceURL: "https://example.com/" + title, Platform: "YouTube"}
}

func status(s domain.JobStatus) *domain.JobStatus { return &s }
func progress(v int) *int { return &v }

func statusOf(store *Store, id domain.JobID) domain.JobStatus {
	job, err := store.Get(id)
	if err != nil {
		return ""
	}
	return job.Status
}

func TestStore_AddInsertsPendingAtFront(t *testing.T) {
	p := &fakePersister{}
	store := newTestStore(t, p, 3)
	ctx := context.Background()

	first, err := store.Add(ctx, spec("first"))
	require.NoError(t, err)
	second, err := store.Add(ctx, spec("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	jobs := store.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, second, jobs[0].ID)
	assert.Equal(t, first, jobs[1].ID)
	assert.Equal(t, domain.JobStatusPending, jobs[0].Status)
	assert.Equal(t, 0, jobs[0].Progress)

	assert.Equal(t, 2, p.saveCount())
	assert.Len(t, p.last.Jobs, 2)
}

func TestStore_AddRejectsInvalidSpec(t *testing.T) {
	p := &fakePersister{}
	store := newTestStore(t, p, 3)

	_, err := store.Add(context.Background(), domain.JobSpec{Title: "", SourceURL: "u", Platform: "p"})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "title", verr.Field)
	assert.Empty(t, store.List())
	assert.Zero(t, p.saveCount())
}

func TestStore_UpdateUnknownID(t *testing.T) {
	store := newTestStore(t, nil, 3)
	err := store.Update(context.Background(), "missing", domain.JobPatch{Progress: progress(5)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RejectedUpdateLeavesStateUntouched(t *testing.T) {
	p := &fakePersister{}
	store := newTestStore(t, p, 3)
	ctx := context.Background()
	id, err := store.Add(ctx, spec("a"))
	require.NoError(t, err)
	before, _ := store.Get(id)
	saves := p.saveCount()

	var events []Change
	store.OnChange(func(c Change) { events = append(events, c) })

	err = store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusCompleted)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	after, _ := store.Get(id)
	assert.Equal(t, before, after)
	assert.Equal(t, saves, p.saveCount())
	assert.Empty(t, events)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	p := &fakePersister{}
	store := newTestStore(t, p, 3)
	ctx := context.Background()
	id, _ := store.Add(ctx, spec("a"))

	var removed []domain.JobID
	store.OnChange(func(c Change) {
		if c.Type == ChangeRemoved {
			removed = append(removed, c.JobID)
		}
	})

	require.NoError(t, store.Remove(ctx, id))
	saves := p.saveCount()
	require.NoError(t, store.Remove(ctx, id))
	require.NoError(t, store.Remove(ctx, "never-existed"))

	assert.Equal(t, []domain.JobID{id}, removed)
	assert.Equal(t, saves, p.saveCount())
	_, err := store.Get(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_Toggle(t *testing.T) {
	store := newTestStore(t, nil, 3)
	ctx := context.Background()
	id, _ := store.Add(ctx, spec("a"))

	_, err := store.Toggle(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending jobs cannot be toggled")

	require.NoError(t, store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusDownloading)}))
	require.NoError(t, store.Update(ctx, id, domain.JobPatch{Progress: progress(40)}))

	got, err := store.Toggle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, got)

	got, err = store.Toggle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDownloading, got)

	job, _ := store.Get(id)
	assert.Equal(t, 40, job.Progress, "pause and resume keep progress")

	_, err = store.Toggle(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_EnforcesConcurrencyCap(t *testing.T) {
	store := newTestStore(t, nil, 1)
	ctx := context.Background()
	a, _ := store.Add(ctx, spec("a"))
	b, _ := store.Add(ctx, spec("b"))

	require.NoError(t, store.Update(ctx, a, domain.JobPatch{Status: status(domain.JobStatusDownloading)}))
	err := store.Update(ctx, b, domain.JobPatch{Status: status(domain.JobStatusDownloading)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.Toggle(ctx, a)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, b, domain.JobPatch{Status: status(domain.JobStatusDownloading)}))

	_, err = store.Toggle(ctx, a)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "resume is refused while the cap is full")
}

func TestStore_PromoteOnlyStartsPendingJobs(t *testing.T) {
	store := newTestStore(t, nil, 1)
	ctx := context.Background()
	a, _ := store.Add(ctx, spec("a"))
	b, _ := store.Add(ctx, spec("b"))

	require.NoError(t, store.Promote(ctx, a))
	assert.Equal(t, domain.JobStatusDownloading, statusOf(store, a))

	var invalid *domain.InvalidTransitionError
	err := store.Promote(ctx, b)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.JobStatusPending, invalid.From, "cap refusal reports the pending job")

	_, err = store.Toggle(ctx, a)
	require.NoError(t, err)
	err = store.Promote(ctx, a)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.JobStatusPaused, invalid.From)
	assert.Equal(t, domain.JobStatusPaused, statusOf(store, a), "a paused job is never resumed by promotion")

	assert.ErrorIs(t, store.Promote(ctx, "missing"), domain.ErrNotFound)
}

func TestStore_Retry(t *testing.T) {
	store := newTestStore(t, nil, 3)
	ctx := context.Background()
	id, _ := store.Add(ctx, spec("a"))
	require.NoError(t, store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusDownloading)}))
	require.NoError(t, store.Update(ctx, id, domain.JobPatch{Progress: progress(35)}))
	msg := "connection reset"
	require.NoError(t, store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusError), ErrorMessage: &msg}))

	err := store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusPending)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, store.Retry(ctx, id))
	job, _ := store.Get(id)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Empty(t, job.ErrorMessage)

	assert.ErrorIs(t, store.Retry(ctx, id), domain.ErrInvalidTransition)
}

func TestStore_PersistenceFailureKeepsMutation(t *testing.T) {
	p := &fakePersister{saveErr: errors.New("disk full")}
	store := newTestStore(t, p, 3)

	id, err := store.Add(context.Background(), spec("a"))
	assert.ErrorIs(t, err, domain.ErrPersistence)
	require.NotEmpty(t, id)

	job, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "a", job.Title)
}

func TestStore_RestoreDemotedSnapshot(t *testing.T) {
	now := time.Now()
	paused := domain.NewJob("r-1", spec("resumable"), now)
	paused.Status = domain.JobStatusPaused
	paused.Progress = 50
	p := &fakePersister{loaded: &domain.Snapshot{
		Jobs:          []domain.Job{paused},
		Settings:      domain.DefaultSettings(),
		SearchHistory: []string{"lofi"},
	}}
	store := newTestStore(t, p, 3)

	var restored bool
	store.OnChange(func(c Change) { restored = restored || c.Type == ChangeRestored })

	require.NoError(t, store.Restore(context.Background()))
	job, err := store.Get("r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, job.Status)
	assert.Equal(t, 50, job.Progress)
	assert.Equal(t, []string{"lofi"}, store.SearchHistory())
	assert.True(t, restored)
}

func TestStore_RestoreCorruptStartsEmpty(t *testing.T) {
	p := &fakePersister{loadErr: errors.New("unexpected end of JSON input")}
	store := newTestStore(t, p, 3)

	err := store.Restore(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, store.List())
	assert.Equal(t, domain.DefaultSettings(), store.Settings())

	_, err = store.Add(context.Background(), spec("after"))
	assert.NoError(t, err)
}

func TestStore_SettingsHistoryFavorites(t *testing.T) {
	p := &fakePersister{}
	store := newTestStore(t, p, 3)
	ctx := context.Background()

	auto := false
	quality := domain.QualityUltra
	got, err := store.UpdateSettings(ctx, domain.SettingsPatch{AutoDownload: &auto, Quality: &quality})
	require.NoError(t, err)
	assert.False(t, got.AutoDownload)
	assert.Equal(t, quality, store.Settings().Quality)

	bad := domain.Quality("8k")
	_, err = store.UpdateSettings(ctx, domain.SettingsPatch{Quality: &bad})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, quality, store.Settings().Quality)

	require.NoError(t, store.AddSearch(ctx, "lofi"))
	require.NoError(t, store.AddSearch(ctx, "ubuntu"))
	require.NoError(t, store.AddSearch(ctx, "lofi"))
	assert.Equal(t, []string{"lofi", "ubuntu"}, store.SearchHistory())
	assert.ErrorIs(t, store.AddSearch(ctx, "  "), domain.ErrValidation)

	require.NoError(t, store.AddFavorite(ctx, domain.Favorite{ID: "v1", Title: "Clip"}))
	require.NoError(t, store.AddFavorite(ctx, domain.Favorite{ID: "v1", Title: "Clip (renamed)"}))
	favs := store.Favorites()
	require.Len(t, favs, 1)
	assert.Equal(t, "Clip (renamed)", favs[0].Title)
	assert.False(t, favs[0].AddedAt.IsZero())

	require.NoError(t, store.RemoveFavorite(ctx, "v1"))
	assert.Empty(t, store.Favorites())

	assert.Equal(t, []string{"lofi", "ubuntu"}, p.last.SearchHistory)
	assert.False(t, p.last.Settings.AutoDownload)
}

func TestStore_OnChangeUnsubscribe(t *testing.T) {
	store := newTestStore(t, nil, 3)
	ctx := context.Background()

	var seen []ChangeType
	unsubscribe := store.OnChange(func(c Change) { seen = append(seen, c.Type) })

	id, _ := store.Add(ctx, spec("a"))
	require.NoError(t, store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusDownloading)}))
	unsubscribe()
	require.NoError(t, store.Remove(ctx, id))

	assert.Equal(t, []ChangeType{ChangeAdded, ChangeUpdated}, seen)
}

func TestStore_ListReturnsCopies(t *testing.T) {
	store := newTestStore(t, nil, 3)
	id, _ := store.Add(context.Background(), domain.JobSpec{Title: "t", SourceURL: "magnet:?xt=urn:btih:1", Platform: "Torrent"})

	jobs := store.List()
	jobs[0].Title = "changed"
	jobs[0].Torrent.Peers = 99

	job, _ := store.Get(id)
	assert.Equal(t, "t", job.Title)
	assert.Zero(t, job.Torrent.Peers)
}

// Random operation sequences must never break the record invariants or the cap.
func TestStore_RandomOperationsKeepInvariants(t *testing.T) {
	const maxActive = 2
	rng := rand.New(rand.NewSource(7))
	store := newTestStore(t, &fakePersister{}, maxActive)
	ctx := context.Background()

	var ids []domain.JobID
	lastProgress := map[domain.JobID]int{}

	for i := 0; i < 2000; i++ {
		var id domain.JobID
		if len(ids) > 0 {
			id = ids[rng.Intn(len(ids))]
		}
		switch rng.Intn(7) {
		case 0:
			newID, err := store.Add(ctx, spec(fmt.Sprintf("t%d", i)))
			require.NoError(t, err)
			ids = append(ids, newID)
		case 1:
			_ = store.Update(ctx, id, domain.JobPatch{Status: status(domain.AllStatuses[rng.Intn(len(domain.AllStatuses))])})
		case 2:
			_ = store.Update(ctx, id, domain.JobPatch{Progress: progress(rng.Intn(110) - 5)})
		case 3:
			_, _ = store.Toggle(ctx, id)
		case 4:
			_ = store.Retry(ctx, id)
		case 5:
			if rng.Intn(4) == 0 {
				_ = store.Remove(ctx, id)
			}
		case 6:
			_ = store.Update(ctx, id, domain.JobPatch{Status: status(domain.JobStatusCompleted)})
		}

		active := 0
		seen := map[domain.JobID]bool{}
		for _, job := range store.List() {
			require.NoError(t, domain.CheckInvariants(job))
			require.False(t, seen[job.ID], "duplicate id %s", job.ID)
			seen[job.ID] = true
			if job.Status == domain.JobStatusDownloading {
				active++
				require.GreaterOrEqual(t, job.Progress, lastProgress[job.ID], "progress went backwards for %s", job.ID)
			}
			lastProgress[job.ID] = job.Progress
		}
		require.LessOrEqual(t, active, maxActive)
	}
}
