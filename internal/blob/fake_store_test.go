package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []PutOptions
	putKeys []string
	stats   int
	gets    int
	ranges  [][2]int64
	failGet error
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) set(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
}

func (m *memStore) object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	return b, ok
}

func (m *memStore) ops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats + m.gets + len(m.puts)
}

func (m *memStore) Stat(_ context.Context, bucket, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats++
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *memStore) Get(_ context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failGet != nil {
		return nil, m.failGet
	}
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	end := int64(len(b))
	if length > 0 {
		end = min(offset+length, end)
		m.ranges = append(m.ranges, [2]int64{offset, length})
	}
	return io.NopCloser(bytes.NewReader(b[offset:end])), nil
}

func (m *memStore) Put(_ context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	m.puts = append(m.puts, opts)
	m.putKeys = append(m.putKeys, key)
	return nil
}
