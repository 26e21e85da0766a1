package metadata

import (
	"context"
	"errors"

	"github.com/FranLegon/syncly/internal/model"
)

var (
	// ErrNotFound is returned by Find when no record has the requested name.
	ErrNotFound = errors.New("metadata not found")
	// ErrCorrupt marks a metadata file that could not be parsed.
	ErrCorrupt = errors.New("metadata corrupt")
)

// Store persists upload records. Records are only ever appended; Find
// returns the newest record for a name.
type Store interface {
	Append(ctx context.Context, m *model.UploadMetadata) error
	Find(ctx context.Context, fileName string) (*model.UploadMetadata, error)
	List(ctx context.Context) ([]*model.UploadMetadata, error)
	Close() error
}
