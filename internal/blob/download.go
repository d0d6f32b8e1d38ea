package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"upscaled/internal/common/fsutil"
)

func (t *Transfer) download(ctx context.Context, desc Descriptor) error {
	return t.downloadTo(ctx, desc.Bucket, desc.Key, desc.SizeBytes, desc.UseMultipart, desc.LocalCachePath)
}

// downloadTo writes bucket/key to dst atomically. Multipart downloads
// issue concurrent ranged reads of MultipartChunk bytes each.
func (t *Transfer) downloadTo(ctx context.Context, bucket, key string, size int64, multipart bool, dst string) error {
	tmp := fsutil.TempPath(dst)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if multipart {
		err = t.downloadRanged(ctx, bucket, key, size, f)
	} else {
		err = t.downloadWhole(ctx, bucket, key, f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (t *Transfer) downloadWhole(ctx context.Context, bucket, key string, w io.Writer) error {
	rc, err := t.store.Get(ctx, bucket, key, 0, 0)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

func (t *Transfer) downloadRanged(ctx context.Context, bucket, key string, size int64, f *os.File) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	chunk := t.cfg.MultipartChunk
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.MaxConcurrency)
	for off := int64(0); off < size; off += chunk {
		n := min(chunk, size-off)
		g.Go(func() error {
			rc, err := t.store.Get(gctx, bucket, key, off, n)
			if err != nil {
				return err
			}
			defer rc.Close()
			got, err := io.Copy(io.NewOffsetWriter(f, off), io.LimitReader(rc, n))
			if err != nil {
				return err
			}
			if got != n {
				return fmt.Errorf("range %d-%d: short read (%d of %d bytes): %w", off, off+n-1, got, n, io.ErrUnexpectedEOF)
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *Transfer) upload(ctx context.Context, path, bucket, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	opts := PutOptions{
		ContentType: contentType(key),
		Multipart:   fi.Size() > t.cfg.MultipartThreshold,
		PartSize:    uint64(t.cfg.MultipartChunk),
		Concurrency: t.cfg.MaxConcurrency,
	}
	if err := t.store.Put(ctx, bucket, key, f, fi.Size(), opts); err != nil {
		return err
	}
	transferBytesTotal.WithLabelValues("upload").Add(float64(fi.Size()))
	return nil
}

func contentType(key string) string {
	ext := filepath.Ext(key)
	if ext == ".gz" {
		return "application/gzip"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// fetchCompressed downloads key.gz when present and inflates it into the
// cache path. It reports false when no compressed sibling exists.
func (t *Transfer) fetchCompressed(ctx context.Context, desc Descriptor) (bool, error) {
	gzKey := desc.Key + ".gz"
	info, err := t.store.Stat(ctx, desc.Bucket, gzKey)
	if err != nil {
		if IsNotFound(err) {
			t.log.Debug().Str("key", gzKey).Msg("no compressed object, using plain")
			return false, nil
		}
		return false, err
	}
	// Each fetcher inflates from its own copy; concurrent fetches of the
	// same URI share only the final cache path.
	gzPath := fsutil.TempPath(desc.LocalCachePath) + ".gz"
	multipart := info.Size > t.cfg.MultipartThreshold
	if err := t.downloadTo(ctx, desc.Bucket, gzKey, info.Size, multipart, gzPath); err != nil {
		return false, err
	}
	defer os.Remove(gzPath)
	if err := gunzipFile(gzPath, desc.LocalCachePath); err != nil {
		return false, err
	}
	return true, nil
}
