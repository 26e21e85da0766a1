package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/FranLegon/syncly/internal/allocator"
	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/crypto"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/metadata"
	"github.com/FranLegon/syncly/internal/metrics"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/FranLegon/syncly/internal/registry"
	"github.com/FranLegon/syncly/internal/retry"
)

// Uploader places a local file on the registry's buckets, splitting it over
// several buckets when no single one has room, and records where every
// chunk went.
type Uploader struct {
	Registry *registry.Registry
	Store    metadata.Store
	Metrics  *metrics.TransferMetrics
	Retry    retry.Policy
	Owner    string
	SafeMode bool
}

// ChunkName names the n-th chunk (1-based) of a split upload.
func ChunkName(name string, n int) string {
	return fmt.Sprintf("%s_part%d", name, n)
}

// Upload stores the file at path. name defaults to the base name of path
// and contentType to the type registered for its extension. In safe mode
// the placement is computed and logged but nothing is written, and a nil
// record is returned.
func (u *Uploader) Upload(ctx context.Context, path, name, contentType string) (*model.UploadMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	size := info.Size()

	if name == "" {
		name = filepath.Base(path)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}

	buckets := u.Registry.Buckets()
	ranked := u.Registry.RankByFreeSpace(ctx)
	cands := make([]allocator.Candidate, 0, len(ranked))
	for _, e := range ranked {
		cands = append(cands, allocator.Candidate{Index: e.Index, Free: e.Free})
		u.Metrics.SetFree(string(e.Bucket.Provider()), e.Bucket.Account(), e.Free)
	}

	if u.SafeMode {
		return nil, u.dryRun(buckets, cands, name, size)
	}

	alloc, err := allocator.New(cands, size)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	fileHash, err := crypto.HashReader(io.NewSectionReader(f, 0, size))
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	var placements []model.ChunkPlacement

	// Unsplit: try the roomiest bucket; a full bucket hands over to the next.
	for {
		idx, ok := alloc.Whole()
		if !ok {
			break
		}
		b := buckets[idx]
		p, err := u.putChunk(ctx, f, b, name, contentType, 0, size)
		if err == nil {
			placements = append(placements, p)
			return u.finish(ctx, name, size, contentType, fileHash, placements)
		}
		if !errors.Is(err, api.ErrQuotaExceeded) {
			return nil, u.abort(name, placements, err)
		}
		logger.WarningTagged(api.Tags(b), "Bucket is full, choosing another one for %s", name)
		alloc.MarkFull(idx)
		u.Metrics.Retarget(string(b.Provider()))
	}

	// Split: fill the bucket with the most remaining space, one chunk at a time.
	var offset int64
	part := 1
	for offset < size {
		next, err := alloc.Next(size - offset)
		if err != nil {
			return nil, u.abort(name, placements, err)
		}

		b := buckets[next.Index]
		p, err := u.putChunk(ctx, f, b, ChunkName(name, part), "", offset, next.Size)
		if err != nil {
			if errors.Is(err, api.ErrQuotaExceeded) {
				logger.WarningTagged(api.Tags(b), "Bucket is full, retargeting bytes %d-%d of %s", offset, offset+next.Size-1, name)
				alloc.MarkFull(next.Index)
				u.Metrics.Retarget(string(b.Provider()))
				continue
			}
			return nil, u.abort(name, placements, err)
		}

		alloc.Commit(next.Index, next.Size)
		placements = append(placements, p)
		offset += next.Size
		part++
	}

	return u.finish(ctx, name, size, contentType, fileHash, placements)
}

// putChunk uploads size bytes of src starting at offset, retrying transient
// failures against the same bucket. Chunks are sent without a content type.
func (u *Uploader) putChunk(ctx context.Context, src io.ReaderAt, b api.Bucket, chunkName, contentType string, offset, size int64) (model.ChunkPlacement, error) {
	sum, err := crypto.HashReader(io.NewSectionReader(src, offset, size))
	if err != nil {
		return model.ChunkPlacement{}, fmt.Errorf("failed to hash %s: %w", chunkName, err)
	}

	start := time.Now()
	var remote *model.RemoteFile
	err = retry.Do(ctx, u.Retry, func() error {
		var err error
		remote, err = b.Upload(ctx, chunkName, contentType, io.NewSectionReader(src, offset, size), size)
		return err
	})
	u.Metrics.Observe("upload", string(b.Provider()), size, err, time.Since(start))
	if err != nil {
		return model.ChunkPlacement{}, fmt.Errorf("upload %s to %s #%d: %w", chunkName, b.Provider(), b.Number(), err)
	}

	logger.InfoTagged(api.Tags(b), "Stored %s (%d bytes at offset %d)", chunkName, size, offset)
	return model.ChunkPlacement{
		ChunkName:    chunkName,
		Provider:     b.Provider(),
		BucketNumber: b.Number(),
		Account:      b.Account(),
		FileID:       remote.ID,
		Offset:       offset,
		Size:         size,
		SHA256:       sum,
	}, nil
}

func (u *Uploader) finish(ctx context.Context, name string, size int64, contentType, sum string, placements []model.ChunkPlacement) (*model.UploadMetadata, error) {
	meta := &model.UploadMetadata{
		ID:          uuid.NewString(),
		Owner:       u.Owner,
		FileName:    name,
		Size:        size,
		ContentType: contentType,
		SHA256:      sum,
		CreatedAt:   time.Now().UTC(),
		Chunks:      placements,
	}

	if err := u.Store.Append(ctx, meta); err != nil {
		return nil, u.abort(name, placements, fmt.Errorf("failed to save metadata: %w", err))
	}

	if meta.Split() {
		logger.Info("Uploaded %s as %d chunks", name, len(placements))
	} else {
		logger.Info("Uploaded %s", name)
	}
	return meta, nil
}

// abort logs every chunk already written so it can be removed by hand.
func (u *Uploader) abort(name string, written []model.ChunkPlacement, err error) error {
	for _, p := range written {
		logger.ErrorTagged([]string{string(p.Provider), p.Account}, "Orphaned chunk %s (id %s, %d bytes) left on bucket #%d", p.ChunkName, p.FileID, p.Size, p.BucketNumber)
	}
	return fmt.Errorf("upload %s: %w", name, err)
}

func (u *Uploader) dryRun(buckets []api.Bucket, cands []allocator.Candidate, name string, size int64) error {
	plan, err := allocator.Plan(cands, size)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	var offset int64
	for i, a := range plan {
		chunkName := name
		if len(plan) > 1 {
			chunkName = ChunkName(name, i+1)
		}
		logger.DryRunTagged(api.Tags(buckets[a.Index]), "Would upload %s (%d bytes at offset %d)", chunkName, a.Size, offset)
		offset += a.Size
	}
	return nil
}
