// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// BlobStore stores artifacts in-memory and returns pseudo URLs.
type BlobStore struct {
	mu          sync.RWMutex
	data        map[string][]byte
	contentType map[string]string
	baseURL     string
}

// NewBlobStore creates a new in-memory blob store. URLs are built from baseURL when set,
// otherwise they use the memory:// scheme.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		data:        make(map[string][]byte),
		contentType: make(map[string]string),
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// PutObject stores a copy of data if path is new. An existing path keeps its content
// and yields its URL with ads.ErrAlreadyExists.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	url := s.url(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[path]; exists {
		return url, ads.ErrAlreadyExists
	}
	s.data[path] = append([]byte(nil), data...)
	s.contentType[path] = contentType
	return url, nil
}

// Object returns a copy of the stored bytes and content type.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.contentType[path], true
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *BlobStore) url(path string) string {
	if s.baseURL == "" {
		return "memory://" + path
	}
	return s.baseURL + "/" + path
}
