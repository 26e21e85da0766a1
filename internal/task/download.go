package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranLegon/syncly/internal/api"
	"github.com/FranLegon/syncly/internal/crypto"
	"github.com/FranLegon/syncly/internal/logger"
	"github.com/FranLegon/syncly/internal/metadata"
	"github.com/FranLegon/syncly/internal/metrics"
	"github.com/FranLegon/syncly/internal/model"
	"github.com/FranLegon/syncly/internal/registry"
	"github.com/FranLegon/syncly/internal/retry"
)

// FallbackExtensions are tried in order when a name without an extension
// is not found.
var FallbackExtensions = []string{
	".pdf", ".docx", ".doc", ".txt", ".jpg", ".jpeg", ".png",
	".mp4", ".mp3", ".zip", ".xlsx", ".pptx",
}

// Downloader reassembles files from the registry's buckets.
type Downloader struct {
	Registry    *registry.Registry
	Store       metadata.Store
	Metrics     *metrics.TransferMetrics
	Retry       retry.Policy
	Concurrency int
}

// piece is one object to fetch, in merge order.
type piece struct {
	name   string
	bucket api.Bucket
	id     string
	size   int64
	sha256 string
}

// resolved is everything needed to rebuild one logical file.
type resolved struct {
	name   string
	size   int64
	sha256 string
	pieces []piece
}

// Download rebuilds name and writes it to dest. An empty dest or an existing
// directory receives the file under its resolved name. The written path is
// returned.
func (d *Downloader) Download(ctx context.Context, name, dest string) (string, error) {
	res, err := d.resolveWithFallback(ctx, name)
	if err != nil {
		return "", err
	}

	target := destination(dest, res.name)
	if err := d.fetch(ctx, res, target); err != nil {
		return "", err
	}

	logger.Info("Downloaded %s to %s (%d chunk(s))", res.name, target, len(res.pieces))
	return target, nil
}

func destination(dest, name string) string {
	if dest == "" {
		return name
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return filepath.Join(dest, name)
	}
	return dest
}

func (d *Downloader) resolveWithFallback(ctx context.Context, name string) (*resolved, error) {
	res, err := d.resolve(ctx, name)
	if err == nil || !errors.Is(err, ErrNotFound) || filepath.Ext(name) != "" {
		return res, err
	}

	for _, ext := range FallbackExtensions {
		res, err := d.resolve(ctx, name+ext)
		if err == nil {
			logger.Info("Found %s as %s", name, res.name)
			return res, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// resolve looks name up in the metadata store first and falls back to
// scanning every bucket.
func (d *Downloader) resolve(ctx context.Context, name string) (*resolved, error) {
	meta, err := d.Store.Find(ctx, name)
	switch {
	case err == nil:
		return d.fromMetadata(meta)
	case errors.Is(err, metadata.ErrNotFound):
	default:
		logger.Warning("Metadata lookup for %s failed, scanning buckets: %v", name, err)
	}
	return d.scan(ctx, name)
}

func (d *Downloader) fromMetadata(meta *model.UploadMetadata) (*resolved, error) {
	byKey := make(map[string]api.Bucket)
	for _, b := range d.Registry.Buckets() {
		byKey[fmt.Sprintf("%s:%d", b.Provider(), b.Number())] = b
	}

	res := &resolved{name: meta.FileName, size: meta.Size, sha256: meta.SHA256}
	for _, c := range meta.Chunks {
		b, ok := byKey[fmt.Sprintf("%s:%d", c.Provider, c.BucketNumber)]
		if !ok {
			return nil, fmt.Errorf("%w: %s: bucket %s #%d holding %s is not available",
				ErrIncompleteDownload, meta.FileName, c.Provider, c.BucketNumber, c.ChunkName)
		}
		res.pieces = append(res.pieces, piece{
			name:   c.ChunkName,
			bucket: b,
			id:     c.FileID,
			size:   c.Size,
			sha256: c.SHA256,
		})
	}
	return res, nil
}

type scanned struct {
	n      int
	bucket api.Bucket
	file   model.RemoteFile
}

// scan lists every bucket for name. An exact match is the whole file,
// otherwise {name}.partN or {name}_partN objects are ordered by N.
func (d *Downloader) scan(ctx context.Context, name string) (*resolved, error) {
	partRe := regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `[._]part(\d+)$`)

	var parts []scanned
	for _, b := range d.Registry.Buckets() {
		files, err := b.List(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WarningTagged(api.Tags(b), "Failed to list files: %v", err)
			continue
		}

		for _, f := range files {
			if f.Name == name {
				return &resolved{
					name:   name,
					size:   f.Size,
					pieces: []piece{{name: f.Name, bucket: b, id: f.ID, size: f.Size}},
				}, nil
			}
			m := partRe.FindStringSubmatch(f.Name)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			parts = append(parts, scanned{n: n, bucket: b, file: f})
		}
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	res := &resolved{name: name}
	for i, p := range parts {
		if p.n != i+1 {
			if p.n == i {
				return nil, fmt.Errorf("%w: %s: chunk %d found twice", ErrIncompleteDownload, name, p.n)
			}
			return nil, fmt.Errorf("%w: %s: chunk %d is missing", ErrIncompleteDownload, name, i+1)
		}
		res.size += p.file.Size
		res.pieces = append(res.pieces, piece{
			name:   p.file.Name,
			bucket: p.bucket,
			id:     p.file.ID,
			size:   p.file.Size,
		})
	}
	return res, nil
}

// fetch downloads every piece into a private temp directory, then merges
// them in order into a temp file beside target and renames it into place.
func (d *Downloader) fetch(ctx context.Context, res *resolved, target string) error {
	tmpDir, err := os.MkdirTemp("", "syncly-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	paths := make([]string, len(res.pieces))
	g, gctx := errgroup.WithContext(ctx)
	workers := d.Concurrency
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, p := range res.pieces {
		i, p := i, p
		paths[i] = filepath.Join(tmpDir, fmt.Sprintf("chunk_%d", i))
		g.Go(func() error {
			return d.fetchPiece(gctx, p, paths[i])
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIncompleteDownload, res.name, err)
	}

	if err := merge(paths, res, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIncompleteDownload, res.name, err)
	}
	return nil
}

func (d *Downloader) fetchPiece(ctx context.Context, p piece, path string) error {
	start := time.Now()
	var written int64
	var sum string

	err := retry.Do(ctx, d.Retry, func() error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		h := crypto.NewHash()
		n, err := copyTo(ctx, p, io.MultiWriter(f, h))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		written, sum = n, crypto.EncodeHash(h)
		return err
	})
	d.Metrics.Observe("download", string(p.bucket.Provider()), written, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("chunk %s: %w", p.name, err)
	}

	if written != p.size {
		return fmt.Errorf("chunk %s: got %d bytes, expected %d", p.name, written, p.size)
	}
	if p.sha256 != "" && sum != p.sha256 {
		return fmt.Errorf("chunk %s: checksum mismatch", p.name)
	}
	logger.InfoTagged(api.Tags(p.bucket), "Fetched %s (%d bytes)", p.name, written)
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

func copyTo(ctx context.Context, p piece, w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := p.bucket.Download(ctx, p.id, cw)
	return cw.n, err
}

func merge(paths []string, res *resolved, target string) error {
	dir := filepath.Dir(target)
	out, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmpName := out.Name()
	committed := false
	defer func() {
		if !committed {
			out.Close()
			os.Remove(tmpName)
		}
	}()

	h := crypto.NewHash()
	w := io.MultiWriter(out, h)
	var total int64
	for _, path := range paths {
		n, err := appendFile(w, path)
		if err != nil {
			return err
		}
		total += n
	}

	if total != res.size {
		return fmt.Errorf("merged %d bytes, expected %d", total, res.size)
	}
	if res.sha256 != "" && crypto.EncodeHash(h) != res.sha256 {
		return errors.New("checksum mismatch on merged file")
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		committed = true
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	committed = true
	return nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}
