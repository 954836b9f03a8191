package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-queue/internal/domain"
	"media-queue/internal/storage"
)

func TestSimulatedTransfer_StepsFromCurrentProgress(t *testing.T) {
	var ticks []int
	job := domain.Job{ID: "j", Progress: 40, SizeBytes: 1024}
	res, err := SimulatedTransfer{Step: 25, Interval: time.Millisecond}.Transfer(context.Background(), job, func(p Progress) error {
		ticks = append(ticks, p.Percent)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{65, 90}, ticks)
	assert.EqualValues(t, 1024, res.SizeBytes)
}

func TestSimulatedTransfer_StopsOnReportError(t *testing.T) {
	stop := errors.New("stop")
	_, err := SimulatedTransfer{Step: 10, Interval: time.Millisecond}.Transfer(context.Background(), domain.Job{}, func(Progress) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestSimulatedTransfer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SimulatedTransfer{Step: 10, Interval: time.Hour}.Transfer(ctx, domain.Job{}, func(Progress) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKindRouter(t *testing.T) {
	named := func(name string) TransferFunc {
		return func(context.Context, domain.Job, ReportFunc) (Result, error) {
			return Result{LocalPath: name}, nil
		}
	}
	router := KindRouter{Download: named("http")}

	res, err := router.Transfer(context.Background(), domain.Job{Kind: domain.JobKindDownload}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http", res.LocalPath)

	_, err = router.Transfer(context.Background(), domain.Job{Kind: domain.JobKindTorrent}, nil)
	assert.Error(t, err)

	router.Torrent = named("bt")
	res, err = router.Transfer(context.Background(), domain.Job{Kind: domain.JobKindTorrent}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bt", res.LocalPath)
}

func TestHTTPTransfer_DownloadsAndResumes(t *testing.T) {
	payload := strings.Repeat("0123456789", 1000)
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranges = append(ranges, r.Header.Get("Range"))
		http.ServeContent(w, r, "video.mp4", time.Time{}, strings.NewReader(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	job := domain.Job{ID: "job-1", Title: "Video", SourceURL: srv.URL + "/media/video.mp4"}
	target := filepath.Join(dir, "job-1", "video.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte(payload[:4000]), 0o644))

	transfer := HTTPTransfer{Client: srv.Client(), DataDir: dir, StatusInterval: time.Hour}
	res, err := transfer.Transfer(context.Background(), job, func(Progress) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, target, res.LocalPath)
	assert.EqualValues(t, len(payload), res.SizeBytes)
	assert.Equal(t, []string{"bytes=4000-"}, ranges)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestHTTPTransfer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	transfer := HTTPTransfer{Client: srv.Client(), DataDir: t.TempDir()}
	_, err := transfer.Transfer(context.Background(), domain.Job{ID: "j", Title: "x", SourceURL: srv.URL + "/x"}, func(Progress) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
}

func TestFileNameFor(t *testing.T) {
	assert.Equal(t, "clip.mp4", fileNameFor(domain.Job{SourceURL: "https://cdn.example.com/a/clip.mp4?x=1"}))
	assert.Equal(t, "My_Show_ S01", fileNameFor(domain.Job{SourceURL: "https://example.com/", Title: "My/Show: S01"}))
	assert.Equal(t, "download", fileNameFor(domain.Job{SourceURL: "", Title: " "}))
}

type fakeStorage struct {
	uploads []string
	err     error
}

func (f *fakeStorage) UploadDirectory(_ context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	return f.upload("dir", localPath, opts)
}

func (f *fakeStorage) UploadFile(_ context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	return f.upload("file", localPath, opts)
}

func (f *fakeStorage) upload(kind, localPath string, opts storage.UploadOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, fmt.Sprintf("%s:%s", kind, filepath.Base(localPath)))
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(10, 10)
	}
	return storage.Location(opts.Bucket, opts.KeyPrefix), nil
}

func (f *fakeStorage) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStorage) DeletePrefix(context.Context, string, string) error { return nil }

func TestArchivingTransfer_UploadsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	store := &fakeStorage{}
	archive := ArchivingTransfer{
		Inner: TransferFunc(func(context.Context, domain.Job, ReportFunc) (Result, error) {
			return Result{LocalPath: file, SizeBytes: 4}, nil
		}),
		Storage:     store,
		Bucket:      "media",
		KeyPrefix:   "/archive/",
		RemoveLocal: true,
		Logger:      quietLogger(),
	}

	res, err := archive.Transfer(context.Background(), domain.Job{ID: "job-9"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://media/archive/job-9", res.ArchiveLocation)
	assert.Empty(t, res.LocalPath)
	assert.Equal(t, []string{"file:movie.mkv"}, store.uploads)
	_, statErr := os.Stat(file)
	assert.True(t, os.IsNotExist(statErr))
}

func TestArchivingTransfer_UploadFailureFailsJob(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("bucket missing")
	archive := ArchivingTransfer{
		Inner: TransferFunc(func(context.Context, domain.Job, ReportFunc) (Result, error) {
			return Result{LocalPath: dir}, nil
		}),
		Storage: &fakeStorage{err: boom},
		Bucket:  "media",
		Logger:  quietLogger(),
	}

	_, err := archive.Transfer(context.Background(), domain.Job{ID: "job-9"}, nil)
	assert.ErrorIs(t, err, boom)
	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr, "local data is kept when the upload fails")
}
