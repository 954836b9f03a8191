package repository

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned by LoadSnapshot when nothing has been saved yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository durably stores the serialized task store.
type SnapshotRepository interface {
	LoadSnapshot(ctx context.Context) ([]byte, error)
	SaveSnapshot(ctx context.Context, data []byte) error
}
