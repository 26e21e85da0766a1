package api

import (
	"context"
	"io"

	"github.com/FranLegon/syncly/internal/model"
)

// Bucket defines the interface for one authenticated cloud storage account.
// Adapters are created already authenticated; a constructor that cannot
// obtain a token fails with ErrAuthenticationFailed.
type Bucket interface {
	// Identity
	Provider() model.Provider
	Number() int
	Account() string

	// Storage quota, queried live on every call
	CheckStorage(ctx context.Context) (*model.QuotaInfo, error)

	// Object operations. Upload fails with ErrQuotaExceeded when the
	// provider rejects the write for lack of space. An empty contentType
	// lets the provider decide.
	Upload(ctx context.Context, name, contentType string, reader io.Reader, size int64) (*model.RemoteFile, error)
	Download(ctx context.Context, fileID string, writer io.Writer) error
	List(ctx context.Context, nameFilter string) ([]model.RemoteFile, error)
}

// Tags returns the logger tags for a bucket.
func Tags(b Bucket) []string {
	return []string{string(b.Provider()), b.Account()}
}
