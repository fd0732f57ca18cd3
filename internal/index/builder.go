package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// Options control how a document is chunked before embedding.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// Builder turns raw documents into indexes and caches them on disk by document name.
//
// The cache is keyed by name only: a cached index is returned even when the
// content under that name has changed. A warning is logged in that case and
// Invalidate drops the cached copy.
type Builder struct {
	dir       string
	batchSize int
	logger    *zap.Logger
}

func NewBuilder(dir string, batchSize int, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{dir: dir, batchSize: batchSize, logger: logger.Named("index")}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CachePath is the cache file for a document name. The readable part is
// suffixed with a hash of the raw name so distinct names never share a file.
func (b *Builder) CachePath(name string) string {
	base := unsafeName.ReplaceAllString(filepath.Base(name), "_")
	base = strings.Trim(base, ".")
	if base == "" {
		base = "document"
	}
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(b.dir, base+"-"+hex.EncodeToString(sum[:6])+".index.json")
}

// Build returns the cached index for name, or chunks, embeds and caches content.
func (b *Builder) Build(ctx context.Context, emb embedding.Embedder, name string, content []byte, opts Options) (*Index, error) {
	path := b.CachePath(name)
	hash := contentHash(content)

	cached, err := b.load(path)
	switch {
	case err == nil && cached.Name != name:
		b.logger.Warn("index cache belongs to another document",
			zap.String("document", name), zap.String("cached", cached.Name))
	case err == nil:
		if cached.ContentHash != hash {
			b.logger.Warn("cached index is stale for reused document name",
				zap.String("document", name),
				zap.String("cached_sha256", cached.ContentHash),
				zap.String("content_sha256", hash))
		}
		return cached, nil
	case !errors.Is(err, os.ErrNotExist):
		b.logger.Warn("ignoring unreadable index cache", zap.String("path", path), zap.Error(err))
	}

	chunks := Split(string(content), opts.ChunkSize, opts.ChunkOverlap)
	ix, err := Build(ctx, emb, chunks, b.batchSize)
	if err != nil {
		return nil, err
	}
	ix.Name = name
	ix.ContentHash = hash
	ix.ChunkSize = opts.ChunkSize
	ix.ChunkOverlap = opts.ChunkOverlap

	if err := b.store(path, ix); err != nil {
		return nil, err
	}
	b.logger.Info("index built", zap.String("document", name), zap.Int("chunks", len(ix.Entries)))
	return ix, nil
}

// Invalidate removes the cached index for name. A missing cache is not an error.
func (b *Builder) Invalidate(name string) error {
	if err := os.Remove(b.CachePath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove index cache: %w", err)
	}
	return nil
}

func (b *Builder) load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(ix.Entries) == 0 {
		return nil, fmt.Errorf("decode %s: %w", path, ErrEmptyIndex)
	}
	return &ix, nil
}

func (b *Builder) store(path string, ix *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(ix)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("install cache: %w", err)
	}
	return nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
