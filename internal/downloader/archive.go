package downloader

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"media-queue/internal/domain"
	"media-queue/internal/storage"
)

// ArchivingTransfer runs Inner and then uploads the finished output to
// object storage under <KeyPrefix>/<job id>.
type ArchivingTransfer struct {
	Inner       Transfer
	Storage     storage.Service
	Bucket      string
	KeyPrefix   string
	RemoveLocal bool
	Logger      *logrus.Logger
}

func (a ArchivingTransfer) Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error) {
	res, err := a.Inner.Transfer(ctx, job, report)
	if err != nil {
		return res, err
	}
	if res.LocalPath == "" {
		return res, nil
	}

	logger := a.logger().WithField("job_id", job.ID)
	info, err := os.Stat(res.LocalPath)
	if err != nil {
		return Result{}, fmt.Errorf("local data missing: %w", err)
	}

	opts := storage.UploadOptions{
		Bucket:           a.Bucket,
		KeyPrefix:        path.Join(strings.Trim(a.KeyPrefix, "/"), string(job.ID)),
		ProgressCallback: newUploadProgressLogger(logger),
	}
	logger.Infof("upload started from %s", res.LocalPath)

	var dest string
	if info.IsDir() {
		dest, err = a.Storage.UploadDirectory(ctx, res.LocalPath, opts)
	} else {
		dest, err = a.Storage.UploadFile(ctx, res.LocalPath, opts)
	}
	if err != nil {
		return Result{}, fmt.Errorf("upload: %w", err)
	}
	res.ArchiveLocation = dest

	if a.RemoveLocal {
		if err := os.RemoveAll(res.LocalPath); err != nil {
			logger.Warnf("cleanup download data: %v", err)
		} else {
			res.LocalPath = ""
		}
	}
	logger.Infof("archived to %s", dest)
	return res, nil
}

func (a ArchivingTransfer) logger() *logrus.Logger {
	if a.Logger == nil {
		return logrus.StandardLogger()
	}
	return a.Logger
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}
