package upload

import (
	"bytes"
	"context"
	"io"
	"sync"

	"crm-chat/backend/models"
)

// MemoryStore keeps uploads in memory, addressed by content name.
type MemoryStore struct {
	mu       sync.RWMutex
	files    map[string]Blob
	baseURL  string
	maxBytes int64
}

func NewMemoryStore(baseURL string, maxBytes int64) *MemoryStore {
	return &MemoryStore{files: make(map[string]Blob), baseURL: baseURL, maxBytes: maxBytes}
}

func (s *MemoryStore) Store(_ context.Context, blob Blob) (string, error) {
	if err := prepare(&blob, s.maxBytes); err != nil {
		return "", err
	}
	id := contentName(blob)

	s.mu.Lock()
	if _, ok := s.files[id]; !ok {
		blob.Data = append([]byte(nil), blob.Data...)
		s.files[id] = blob
	}
	s.mu.Unlock()
	return fileURL(s.baseURL, id), nil
}

func (s *MemoryStore) Open(_ context.Context, id string) (File, error) {
	s.mu.RLock()
	blob, ok := s.files[id]
	s.mu.RUnlock()
	if !ok {
		return File{}, models.NewError(models.CodeNotFound, "file %s not found", id)
	}
	return File{
		Name:        blob.Name,
		ContentType: blob.ContentType,
		Size:        int64(len(blob.Data)),
		Body:        io.NopCloser(bytes.NewReader(blob.Data)),
	}, nil
}
