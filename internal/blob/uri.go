package blob

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const scheme = "s3://"

// IsURI reports whether s addresses the object store.
func IsURI(s string) bool { return strings.HasPrefix(s, scheme) }

// ParseURI splits s3://bucket/key into bucket and key. ok is false for
// anything that is not an object store URI.
func ParseURI(uri string) (bucket, key string, ok bool) {
	if !IsURI(uri) {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, true
}

// Descriptor is derived deterministically from a URI and the transfer
// configuration. It is never persisted.
type Descriptor struct {
	Bucket         string
	Key            string
	LocalCachePath string
	SizeBytes      int64
	UseCompression bool
	UseMultipart   bool
}

// Describe derives the transfer descriptor for uri. SizeBytes and
// UseMultipart are only known after the remote size is observed; see
// WithSize.
func (t *Transfer) Describe(uri string) (Descriptor, error) {
	bucket, key, ok := ParseURI(uri)
	if !ok {
		return Descriptor{}, fmt.Errorf("not an object store uri: %q", uri)
	}
	if bucket == "" {
		return Descriptor{}, fmt.Errorf("missing bucket in %q", uri)
	}
	if bucket == "." || bucket == ".." {
		return Descriptor{}, fmt.Errorf("invalid bucket in %q", uri)
	}
	base := path.Base(key)
	if key == "" || strings.HasSuffix(key, "/") || base == "." || base == "/" || base == ".." {
		return Descriptor{}, fmt.Errorf("missing object name in %q", uri)
	}
	return Descriptor{
		Bucket:         bucket,
		Key:            key,
		LocalCachePath: cachePath(t.cfg.CacheDir, bucket, key),
		UseCompression: t.cfg.UseCompression,
	}, nil
}

// cachePath mirrors the bucket and full key under <cache>/s3 so that
// objects sharing a basename never share a local file. Rooting the key
// before cleaning keeps ".." segments inside the bucket directory.
func cachePath(cacheDir, bucket, key string) string {
	rel := strings.TrimPrefix(path.Clean("/"+key), "/")
	return filepath.Join(cacheDir, "s3", bucket, filepath.FromSlash(rel))
}

// WithSize records the object size and the resulting transfer strategy.
func (d Descriptor) WithSize(size, threshold int64) Descriptor {
	d.SizeBytes = size
	d.UseMultipart = size > threshold
	return d
}
