// Package blobstore implements domain.BlobStore. spec.md §1 names the blob
// store as an out-of-scope external collaborator we specify only as an
// interface; this in-memory implementation is the reference/dev-test
// backing for it, analogous to the teacher's reliance on a real object store
// reached only through a narrow interface.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

type object struct {
	data []byte
	etag string
}

// Memory is an in-process, mutex-guarded domain.BlobStore.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{objects: map[string]object{}}
}

var _ domain.BlobStore = (*Memory)(nil)

func (m *Memory) Put(ctx domain.Context, key string, data []byte) (string, error) {
	etag := computeETag(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: append([]byte(nil), data...), etag: etag}
	return etag, nil
}

func (m *Memory) Get(ctx domain.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *Memory) Delete(ctx domain.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) ListByPrefix(ctx domain.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) WaitUntilVisible(ctx domain.Context, key, etag string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok || obj.etag != etag {
		return fmt.Errorf("%w: %s not yet visible at etag %s", domain.ErrConflict, key, etag)
	}
	return nil
}

func computeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
