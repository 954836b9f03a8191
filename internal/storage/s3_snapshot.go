package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"media-queue/internal/repository"
)

// DefaultSnapshotKey is the object key used when none is configured.
const DefaultSnapshotKey = "media-queue/snapshot.json"

type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotRepository keeps the task store snapshot as a single S3 object.
type SnapshotRepository struct {
	client objectAPI
	bucket string
	key    string
}

func NewSnapshotRepository(client objectAPI, bucket, key string) (*SnapshotRepository, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	key = strings.Trim(key, "/")
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotRepository{client: client, bucket: bucket, key: key}, nil
}

func (r *SnapshotRepository) LoadSnapshot(ctx context.Context) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot object: %w", err)
	}
	return data, nil
}

func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, data []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		ACL:           types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("put snapshot object: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Location() string {
	return Location(r.bucket, r.key)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var _ repository.SnapshotRepository = (*SnapshotRepository)(nil)
