package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Service archives job output to Amazon S3 (or compatible APIs).
type S3Service struct {
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

type uploadFile struct {
	path string
	rel  string
	size int64
}

// UploadDirectory uploads every regular file below localPath under
// opts.KeyPrefix and returns the s3:// location of the prefix.
func (s *S3Service) UploadDirectory(ctx context.Context, localPath string, opts UploadOptions) (string, error) {
	if opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	keyPrefix := strings.Trim(opts.KeyPrefix, "/")
	if keyPrefix == "" {
		return "", fmt.Errorf("key prefix is required")
	}

	root := filepath.Clean(localPath)
	if fi, err := os.Stat(root); err != nil {
		return "", fmt.Errorf("stat local path: %w", err)
	} else if !fi.IsDir() {
		return "", fmt.Errorf("local path must be a directory")
	}

	files, err := collectFiles(root)
	if err != nil {
		return "", err
	}

	var totalSize int64
	for _, file := range files {
		totalSize += file.size
	}
	progress := newProgressReporter(totalSize, opts.ProgressCallback)
	if progress != nil {
		progress.report(0)
	}

	for _, file := range files {
		if err := s.put(ctx, opts.Bucket, objectKey(keyPrefix, file.rel), file.path, progress); err != nil {
			return "", err
		}
	}

	if progress != nil {
		progress.flush()
	}
	return Location(opts.Bucket, keyPrefix), nil
}

// UploadFile uploads a single file as <prefix>/<basename>.
func (s *S3Service) UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error) {
	if opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat local path: %w", err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("local path must be a file")
	}

	key := objectKey(strings.Trim(opts.KeyPrefix, "/"), filepath.Base(localPath))
	progress := newProgressReporter(fi.Size(), opts.ProgressCallback)
	if err := s.put(ctx, opts.Bucket, key, localPath, progress); err != nil {
		return "", err
	}
	if progress != nil {
		progress.flush()
	}
	return Location(opts.Bucket, key), nil
}

func (s *S3Service) put(ctx context.Context, bucket, key, path string, progress *progressReporter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file %s: %w", path, err)
	}
	var reader io.Reader = f
	if progress != nil {
		reader = io.TeeReader(f, progress)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   reader,
		ACL:    types.ObjectCannedACLPrivate,
	})
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close file %s: %w", path, closeErr)
	}
	return nil
}

func (s *S3Service) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	var objects []ObjectInfo
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if strings.TrimSpace(prefix) != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}
	}
	return objects, nil
}

// DeletePrefix removes every object under prefix. It backs job removal when
// archived output should not outlive the job.
func (s *S3Service) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	if bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return fmt.Errorf("prefix is required")
	}

	objects, err := s.ListObjects(ctx, bucket, trimmed)
	if err != nil {
		return fmt.Errorf("list objects for delete: %w", err)
	}
	for _, batch := range batchKeys(objects, 1000) {
		identifiers := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			identifiers[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
	}
	return nil
}

var _ Service = (*S3Service)(nil)

// Location formats an s3:// URI.
func Location(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, strings.TrimLeft(key, "/"))
}

// ParseLocation splits an s3:// URI into bucket and key.
func ParseLocation(loc string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(loc, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, key, true
}

func objectKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	switch {
	case rel == "" || rel == ".":
		return prefix
	case prefix == "":
		return rel
	default:
		return prefix + "/" + rel
	}
}

func collectFiles(root string) ([]uploadFile, error) {
	var files []uploadFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		files = append(files, uploadFile{path: path, rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func batchKeys(objects []ObjectInfo, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(objects); start += size {
		end := min(start+size, len(objects))
		batch := make([]string, 0, end-start)
		for _, obj := range objects[start:end] {
			batch = append(batch, obj.Key)
		}
		batches = append(batches, batch)
	}
	return batches
}

type progressReporter struct {
	total    int64
	done     int64
	cb       func(done, total int64)
	mu       sync.Mutex
	lastFire time.Time
}

func newProgressReporter(total int64, cb func(done, total int64)) *progressReporter {
	if cb == nil {
		return nil
	}
	return &progressReporter{total: total, cb: cb}
}

func (p *progressReporter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(len(b))
	now := time.Now()
	if now.Sub(p.lastFire) >= 200*time.Millisecond || p.done == p.total {
		p.lastFire = now
		p.cb(p.done, p.total)
	}
	return len(b), nil
}

func (p *progressReporter) report(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = done
	p.lastFire = time.Now()
	p.cb(p.done, p.total)
}

func (p *progressReporter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(p.done, p.total)
}
