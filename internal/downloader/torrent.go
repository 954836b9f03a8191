package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"

	"media-queue/internal/domain"
)

type TorrentConfig struct {
	DataDir        string
	StatusInterval time.Duration
	TrackerList    []string
	Logger         *logrus.Logger
}

// TorrentTransfer downloads magnet links with an embedded BitTorrent client.
// Piece completion is kept in DataDir, so a resumed job continues where the
// previous worker stopped.
type TorrentTransfer struct {
	cfg    TorrentConfig
	client *torrent.Client
}

func NewTorrentTransfer(cfg TorrentConfig) (*TorrentTransfer, error) {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create torrent data dir: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	cfg.Logger.Infof("torrent client started, data dir: %s", cfg.DataDir)
	return &TorrentTransfer{cfg: cfg, client: client}, nil
}

func (t *TorrentTransfer) Close() {
	t.client.Close()
}

func (t *TorrentTransfer) Transfer(ctx context.Context, job domain.Job, report ReportFunc) (Result, error) {
	logger := t.cfg.Logger.WithField("job_id", job.ID)

	tor, err := t.client.AddMagnet(job.SourceURL)
	if err != nil {
		return Result{}, fmt.Errorf("add magnet: %w", err)
	}
	defer tor.Drop()

	for _, tracker := range t.cfg.TrackerList {
		tor.AddTrackers([][]string{{tracker}})
	}

	select {
	case <-ctx.Done():
		logger.Info("cancelled before fetching metadata")
		return Result{}, ctx.Err()
	case <-tor.GotInfo():
	}

	info := tor.Info()
	if info == nil {
		return Result{}, fmt.Errorf("missing torrent info")
	}
	totalLength := info.TotalLength()
	localPath := filepath.Join(t.cfg.DataDir, info.BestName())

	tor.DownloadAll()

	lastBytes := tor.BytesCompleted()
	lastTime := time.Now()
	ticker := time.NewTicker(t.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		bytesCompleted := tor.BytesCompleted()
		if tor.BytesMissing() == 0 {
			logger.Infof("torrent complete: %s", formatBytes(totalLength))
			return Result{LocalPath: localPath, SizeBytes: totalLength}, nil
		}

		elapsed := time.Since(lastTime).Seconds()
		var speed int64
		if elapsed > 0 {
			speed = int64(float64(bytesCompleted-lastBytes) / elapsed)
		}
		lastBytes = bytesCompleted
		lastTime = time.Now()

		stats := tor.Stats()
		err := report(Progress{
			Percent:          percentOf(bytesCompleted, totalLength),
			SizeBytes:        totalLength,
			SpeedBytesPerSec: speed,
			Peers:            stats.ActivePeers,
			Seeds:            stats.ConnectedSeeders,
			LocalPath:        localPath,
		})
		if err != nil {
			return Result{}, err
		}
	}
}

func percentOf(done, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(done * 100 / total)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"http://tracker.opentrackr.org:1337/announce",
	}
}
