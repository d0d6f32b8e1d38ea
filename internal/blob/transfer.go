package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"upscaled/internal/common/fsutil"
)

const (
	mib = 1 << 20

	DefaultMultipartThreshold = 100 * mib
	DefaultMultipartChunk     = 25 * mib
	DefaultMaxConcurrency     = 10
)

// Config controls local caching and transfer strategy.
type Config struct {
	// CacheDir holds fetched inputs, keyed by the object's base name.
	CacheDir           string
	UseCompression     bool
	MultipartThreshold int64
	MultipartChunk     int64
	MaxConcurrency     int
	// VerifyCache re-checks size and checksum of files this process
	// fetched before serving them from the cache.
	VerifyCache bool
	IndexSize   int
	Logger      zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = DefaultMultipartThreshold
	}
	if c.MultipartChunk <= 0 {
		c.MultipartChunk = DefaultMultipartChunk
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	return c
}

// Transfer moves images between the object store and a local cache
// directory. It is safe for concurrent use.
type Transfer struct {
	cfg   Config
	store ObjectStore
	index *cacheIndex
	log   zerolog.Logger
}

// New creates a Transfer. store may be nil when only local paths are used.
func New(store ObjectStore, cfg Config) (*Transfer, error) {
	cfg = cfg.withDefaults()
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("blob: cache dir is required")
	}
	idx, err := newCacheIndex(cfg.IndexSize, cfg.VerifyCache)
	if err != nil {
		return nil, fmt.Errorf("blob: cache index: %w", err)
	}
	return &Transfer{cfg: cfg, store: store, index: idx, log: cfg.Logger}, nil
}

// CacheDir returns the local cache directory.
func (t *Transfer) CacheDir() string { return t.cfg.CacheDir }

// Entry returns the cache record for a local path written by Fetch.
func (t *Transfer) Entry(path string) (CacheEntry, bool) { return t.index.lookup(path) }

// Fetch ensures the object addressed by uri is present locally and returns
// its path. Non-URI inputs are returned unchanged. A cached file is served
// without any remote call.
func (t *Transfer) Fetch(ctx context.Context, uri string) (string, error) {
	if !IsURI(uri) {
		return uri, nil
	}
	desc, err := t.Describe(uri)
	if err != nil {
		return "", t.fail("fetch", uri, err)
	}
	if t.index.hit(desc.LocalCachePath) {
		transferCacheTotal.WithLabelValues("hit").Inc()
		t.log.Debug().Str("uri", uri).Str("path", desc.LocalCachePath).Msg("cache hit")
		return desc.LocalCachePath, nil
	}
	transferCacheTotal.WithLabelValues("miss").Inc()
	if t.store == nil {
		return "", t.fail("fetch", uri, fmt.Errorf("no object store configured"))
	}
	if err := fsutil.EnsureDir(filepath.Dir(desc.LocalCachePath)); err != nil {
		return "", t.fail("fetch", uri, err)
	}

	if t.cfg.UseCompression {
		ok, err := t.fetchCompressed(ctx, desc)
		if err != nil {
			return "", t.fail("fetch", uri, err)
		}
		if ok {
			return t.finishFetch(uri, desc)
		}
	}

	info, err := t.store.Stat(ctx, desc.Bucket, desc.Key)
	if err != nil {
		return "", t.fail("fetch", uri, err)
	}
	desc = desc.WithSize(info.Size, t.cfg.MultipartThreshold)
	if err := t.download(ctx, desc); err != nil {
		return "", t.fail("fetch", uri, err)
	}
	return t.finishFetch(uri, desc)
}

func (t *Transfer) finishFetch(uri string, desc Descriptor) (string, error) {
	e, err := t.index.record(uri, desc.LocalCachePath)
	if err != nil {
		return "", t.fail("fetch", uri, err)
	}
	transferBytesTotal.WithLabelValues("download").Add(float64(e.Size))
	t.log.Info().
		Str("uri", uri).
		Str("path", desc.LocalCachePath).
		Int64("bytes", e.Size).
		Bool("multipart", desc.UseMultipart).
		Msg("fetched")
	return desc.LocalCachePath, nil
}

// Store publishes localPath to dest. For an object store URI the file is
// uploaded (and, with compression, a .gz sibling is uploaded first). For a
// local dest the file is copied unless dest already is localPath.
func (t *Transfer) Store(ctx context.Context, localPath, dest string) (string, error) {
	if !IsURI(dest) {
		if samePath(localPath, dest) {
			return dest, nil
		}
		if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
			return "", t.fail("store", dest, err)
		}
		if err := fsutil.CopyFile(localPath, dest); err != nil {
			return "", t.fail("store", dest, err)
		}
		return dest, nil
	}
	if t.store == nil {
		return "", t.fail("store", dest, fmt.Errorf("no object store configured"))
	}
	bucket, key, _ := ParseURI(dest)
	if bucket == "" || key == "" {
		return "", t.fail("store", dest, fmt.Errorf("missing bucket or key"))
	}

	if t.cfg.UseCompression {
		gz := fsutil.TempPath(localPath) + ".gz"
		if err := gzipFile(localPath, gz); err != nil {
			return "", t.fail("store", dest, err)
		}
		err := t.upload(ctx, gz, bucket, key+".gz")
		_ = os.Remove(gz)
		if err != nil {
			return "", t.fail("store", dest, err)
		}
	}
	if err := t.upload(ctx, localPath, bucket, key); err != nil {
		return "", t.fail("store", dest, err)
	}
	t.log.Info().Str("uri", dest).Str("path", localPath).Msg("stored")
	return dest, nil
}

func (t *Transfer) fail(op, uri string, err error) error {
	transferErrorsTotal.WithLabelValues(op).Inc()
	t.log.Warn().Err(err).Str("op", op).Str("uri", uri).Msg("transfer failed")
	return &TransferError{Op: op, URI: uri, Err: err}
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
