package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultIndexSize = 4096

// CacheEntry records what was written to a local cache path by a fetch.
type CacheEntry struct {
	URI       string
	Path      string
	Size      int64
	SHA256    string
	FetchedAt time.Time
}

// cacheIndex remembers recently fetched files. A path absent from the
// index is trusted on existence; the index only adds integrity checks for
// files this process wrote.
type cacheIndex struct {
	entries *lru.Cache[string, CacheEntry]
	verify  bool
}

func newCacheIndex(size int, verify bool) (*cacheIndex, error) {
	if size <= 0 {
		size = defaultIndexSize
	}
	c, err := lru.New[string, CacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &cacheIndex{entries: c, verify: verify}, nil
}

func (c *cacheIndex) record(uri, path string) (CacheEntry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return CacheEntry{}, err
	}
	e := CacheEntry{URI: uri, Path: path, Size: fi.Size(), FetchedAt: time.Now()}
	if c.verify {
		sum, err := fileSHA256(path)
		if err != nil {
			return CacheEntry{}, err
		}
		e.SHA256 = sum
	}
	c.entries.Add(path, e)
	return e, nil
}

// hit reports whether path can be served from disk.
func (c *cacheIndex) hit(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		c.entries.Remove(path)
		return false
	}
	if !c.verify {
		return true
	}
	e, ok := c.entries.Get(path)
	if !ok {
		return true
	}
	if e.Size != fi.Size() {
		c.entries.Remove(path)
		return false
	}
	if e.SHA256 == "" {
		return true
	}
	sum, err := fileSHA256(path)
	if err != nil || sum != e.SHA256 {
		c.entries.Remove(path)
		return false
	}
	return true
}

func (c *cacheIndex) lookup(path string) (CacheEntry, bool) {
	return c.entries.Peek(path)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
