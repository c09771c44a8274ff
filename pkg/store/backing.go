package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PageID identifies a page on the backing store. IDs are allocated once and
// never reused while the page is live; identity is separate from the page's
// mutable key range.
type PageID uint64

// BackingStore is the durable medium under the page cache, addressed by
// page id. Implementations need no cross-page atomicity; a write either
// replaces the whole page image or fails.
type BackingStore interface {
	ReadPage(id PageID) ([]byte, error)
	WritePage(id PageID, data []byte) error
	DeletePage(id PageID) error

	// List enumerates every live page id, in no particular order. Used by
	// the open-time recovery pass.
	List() ([]PageID, error)

	Close() error
}

// FileStore keeps one file per page inside a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) pagePath(id PageID) string {
	return filepath.Join(s.dir, fmt.Sprintf("page-%d.pg", id))
}

func (s *FileStore) ReadPage(id PageID) ([]byte, error) {
	return os.ReadFile(s.pagePath(id))
}

func (s *FileStore) WritePage(id PageID, data []byte) error {
	return os.WriteFile(s.pagePath(id), data, 0644)
}

func (s *FileStore) DeletePage(id PageID) error {
	err := os.Remove(s.pagePath(id))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) List() ([]PageID, error) {
	pattern := filepath.Join(s.dir, "page-*.pg")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	var ids []PageID
	for _, file := range files {
		name := filepath.Base(file)
		name = strings.TrimPrefix(name, "page-")
		name = strings.TrimSuffix(name, ".pg")
		id, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, PageID(id))
	}
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

// retryStore retries transient faults a bounded number of times with a flat
// backoff, then surfaces a fatal IOError. A missing page is never retried:
// the id came from the index, so absence is an inconsistency, not a fault.
type retryStore struct {
	inner    BackingStore
	attempts int
	backoff  time.Duration
}

func withRetries(inner BackingStore, attempts int, backoff time.Duration) BackingStore {
	if attempts < 1 {
		attempts = 1
	}
	return &retryStore{inner: inner, attempts: attempts, backoff: backoff}
}

func (r *retryStore) do(op string, id PageID, fn func() error) error {
	var err error
	for i := 0; i < r.attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if isNotExist(err) {
			return err
		}
		if i < r.attempts-1 && r.backoff > 0 {
			time.Sleep(r.backoff)
		}
	}
	return &IOError{Op: op, PageID: id, Transient: false, Err: err}
}

func (r *retryStore) ReadPage(id PageID) ([]byte, error) {
	var data []byte
	err := r.do("read", id, func() error {
		var e error
		data, e = r.inner.ReadPage(id)
		return e
	})
	return data, err
}

func (r *retryStore) WritePage(id PageID, data []byte) error {
	return r.do("write", id, func() error { return r.inner.WritePage(id, data) })
}

func (r *retryStore) DeletePage(id PageID) error {
	return r.do("delete", id, func() error { return r.inner.DeletePage(id) })
}

func (r *retryStore) List() ([]PageID, error) {
	var ids []PageID
	err := r.do("list", 0, func() error {
		var e error
		ids, e = r.inner.List()
		return e
	})
	return ids, err
}

func (r *retryStore) Close() error { return r.inner.Close() }

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, sql.ErrNoRows)
}
