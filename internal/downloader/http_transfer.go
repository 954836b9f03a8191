package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"media-queue/internal/domain"
)

// HTTPTransfer fetches a job's source URL with a plain GET into
// <DataDir>/<job id>/. A partial file left by a paused worker is resumed with
// a Range request when the server supports it.
type HTTPTransfer struct {
	Client         *http.Client
	DataDir        string
	StatusInterval time.Duration
	UserAgent      string
}

func (h HTTPTransfer) Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	interval := h.StatusInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	dir := filepath.Join(h.DataDir, string(job.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create job dir: %w", err)
	}
	target := filepath.Join(dir, fileNameFor(job))

	var offset int64
	if fi, err := os.Stat(target); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, http.NoBody)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request %s: %w", job.SourceURL, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		return Result{LocalPath: target, SizeBytes: offset}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		flags |= os.O_TRUNC
		offset = 0
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("download failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	total := job.SizeBytes
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	out, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", target, err)
	}
	defer out.Close()

	written := offset
	lastReport := time.Now()
	lastBytes := written
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return Result{}, fmt.Errorf("write %s: %w", target, err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("read body: %w", readErr)
		}

		if elapsed := time.Since(lastReport); elapsed >= interval {
			speed := int64(float64(written-lastBytes) / elapsed.Seconds())
			lastReport, lastBytes = time.Now(), written
			err := report(Progress{
				Percent:          percentOf(written, total),
				SizeBytes:        total,
				SpeedBytesPerSec: speed,
				LocalPath:        target,
			})
			if err != nil {
				return Result{}, err
			}
		}
	}

	if err := out.Sync(); err != nil {
		return Result{}, fmt.Errorf("sync %s: %w", target, err)
	}
	return Result{LocalPath: target, SizeBytes: written}, nil
}

func fileNameFor(job domain.Job) string {
	if u, err := url.Parse(job.SourceURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return sanitizeFileName(base)
		}
	}
	return sanitizeFileName(job.Title)
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "download"
	}
	return name
}
