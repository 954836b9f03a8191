package downloader

import (
	"context"
	"fmt"
	"time"

	"media-queue/internal/domain"
)

// Progress is one tick reported by a running transfer.
type Progress struct {
	Percent          int
	SizeBytes        int64
	SpeedBytesPerSec int64
	Peers            int
	Seeds            int
	LocalPath        string
}

// Result describes a finished transfer.
type Result struct {
	LocalPath       string
	ArchiveLocation string
	SizeBytes       int64
}

// ReportFunc forwards a tick to the task store. A non-nil error means the
// job no longer wants the transfer and it should return promptly.
type ReportFunc func(Progress) error

// Transfer moves the bytes for one job. Implementations must return when ctx
// is cancelled.
type Transfer interface {
	Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error)
}

type TransferFunc func(ctx context.Context, job domain.Job, report ReportFunc) (Result, error)

func (f TransferFunc) Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error) {
	return f(ctx, job, report)
}

// SimulatedTransfer advances a job by a fixed step on every interval and
// succeeds once the next step would reach 100.
type SimulatedTransfer struct {
	Step     int
	Interval time.Duration
}

func (s SimulatedTransfer) Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error) {
	step := s.Step
	if step <= 0 {
		step = 10
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	percent := job.Progress
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
		percent += step
		if percent >= 100 {
			return Result{SizeBytes: job.SizeBytes}, nil
		}
		if err := report(Progress{Percent: percent, SizeBytes: job.SizeBytes}); err != nil {
			return Result{}, err
		}
	}
}

// KindRouter dispatches to a transfer per job kind.
type KindRouter struct {
	Download Transfer
	Torrent  Transfer
}

func (r KindRouter) Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error) {
	var t Transfer
	switch job.Kind {
	case domain.JobKindTorrent:
		t = r.Torrent
	default:
		t = r.Download
	}
	if t == nil {
		return Result{}, fmt.Errorf("no transfer configured for %s jobs", job.Kind)
	}
	return t.Transfer(ctx, job, report)
}
