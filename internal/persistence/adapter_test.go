package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-queue/internal/domain"
	"media-queue/internal/repository"
)

type memoryRepo struct {
	mu      sync.Mutex
	data    []byte
	saveErr error
	loadErr error
	block   bool
}

func (m *memoryRepo) LoadSnapshot(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return nil, repository.ErrSnapshotNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memoryRepo) SaveSnapshot(ctx context.Context, data []byte) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func sampleSnapshot() domain.Snapshot {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	pending := domain.NewJob("b", domain.JobSpec{Title: "B", SourceURL: "u2", Platform: "Music"}, created.Add(time.Minute))
	active := domain.NewJob("a", domain.JobSpec{Title: "A", SourceURL: "magnet:?xt=urn:btih:aa", Platform: "Torrent"}, created)
	active.Status = domain.JobStatusDownloading
	active.Progress = 42
	active.Torrent = &domain.TorrentStats{SpeedBytesPerSec: 1000, Peers: 4, Seeds: 2}
	done := domain.NewJob("c", domain.JobSpec{Title: "C", SourceURL: "u3", Platform: "YouTube"}, created.Add(-time.Hour))
	done.Status = domain.JobStatusCompleted
	done.Progress = 100

	return domain.Snapshot{
		Jobs:          []domain.Job{pending, active, done},
		Settings:      domain.DefaultSettings(),
		SearchHistory: []string{"lofi", "ubuntu iso"},
		Favorites:     []domain.Favorite{{ID: "f1", Title: "Fav", AddedAt: created}},
	}
}

func TestAdapter_SaveThenLoadDemotesDownloading(t *testing.T) {
	repo := &memoryRepo{}
	adapter := NewAdapter(repo, Options{})
	ctx := context.Background()

	require.NoError(t, adapter.Save(ctx, sampleSnapshot()))

	snap, found, err := adapter.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, snap.Jobs, 3)

	assert.Equal(t, domain.JobID("b"), snap.Jobs[0].ID, "order is preserved")
	for _, job := range snap.Jobs {
		assert.NotEqual(t, domain.JobStatusDownloading, job.Status)
	}
	restored := snap.Jobs[1]
	assert.Equal(t, domain.JobStatusPaused, restored.Status)
	assert.Equal(t, 42, restored.Progress)
	require.NotNil(t, restored.Torrent)
	assert.Equal(t, domain.TorrentStats{}, *restored.Torrent, "swarm stats are not persisted")

	assert.Equal(t, []string{"lofi", "ubuntu iso"}, snap.SearchHistory)
	assert.Equal(t, "Fav", snap.Favorites[0].Title)
	assert.Equal(t, domain.DefaultSettings(), snap.Settings)
}

func TestAdapter_LoadNotFound(t *testing.T) {
	adapter := NewAdapter(&memoryRepo{}, Options{})

	_, found, err := adapter.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdapter_LoadCorrupt(t *testing.T) {
	tests := map[string][]byte{
		"not json":       []byte("{{{"),
		"future version": []byte(`{"version":99,"jobs":[],"settings":{"downloadPath":"/d","quality":"high","theme":"dark"}}`),
		"bad status":     []byte(`{"version":1,"jobs":[{"id":"x","title":"t","sourceUrl":"u","platform":"p","status":"seeding","progress":0,"createdAt":"2026-01-01T00:00:00Z"}],"settings":{"downloadPath":"/d","quality":"high","theme":"dark"}}`),
		"progress split": []byte(`{"version":1,"jobs":[{"id":"x","title":"t","sourceUrl":"u","platform":"p","status":"completed","progress":50,"createdAt":"2026-01-01T00:00:00Z"}],"settings":{"downloadPath":"/d","quality":"high","theme":"dark"}}`),
		"bad settings":   []byte(`{"version":1,"jobs":[],"settings":{"downloadPath":"/d","quality":"8k","theme":"dark"}}`),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			adapter := NewAdapter(&memoryRepo{data: data}, Options{})
			_, _, err := adapter.Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrPersistence)
		})
	}
}

func TestAdapter_LoadDuplicateIDs(t *testing.T) {
	snap := sampleSnapshot()
	snap.Jobs[2].ID = snap.Jobs[0].ID
	data, err := Encode(snap, time.Now())
	require.NoError(t, err)

	_, _, err = NewAdapter(&memoryRepo{data: data}, Options{}).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestAdapter_SaveFailure(t *testing.T) {
	boom := errors.New("disk full")
	adapter := NewAdapter(&memoryRepo{saveErr: boom}, Options{})

	err := adapter.Save(context.Background(), sampleSnapshot())
	var perr *domain.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "save", perr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestAdapter_SaveTimesOut(t *testing.T) {
	adapter := NewAdapter(&memoryRepo{block: true}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	err := adapter.Save(context.Background(), sampleSnapshot())
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEncode_WritesVersionAndISOTimestamps(t *testing.T) {
	data, err := Encode(sampleSnapshot(), time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, SchemaVersion, raw["version"])
	assert.Equal(t, "2026-05-02T00:00:00Z", raw["savedAt"])

	jobs := raw["jobs"].([]any)
	first := jobs[1].(map[string]any)
	assert.Equal(t, "2026-05-01T12:00:00Z", first["createdAt"])
	assert.NotContains(t, first, "peers")
	assert.Equal(t, "torrent", first["kind"])
}
