package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var ErrObjectNotFound = errors.New("memory: object not found")

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore keeps uploaded attachments in memory for local demos. URLs are relative to
// the server that serves them under Prefix.
type ObjectStore struct {
	Prefix  string
	MaxSize int64

	mu      sync.RWMutex
	objects map[string]Object
}

func NewObjectStore(prefix string, maxSize int64) *ObjectStore {
	return &ObjectStore{
		Prefix:  "/" + strings.Trim(prefix, "/"),
		MaxSize: maxSize,
		objects: map[string]Object{},
	}
}

// Put stores the content under key and returns its URL path.
func (s *ObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("memory: object key is required")
	}
	reader := body
	if s.MaxSize > 0 {
		reader = io.LimitReader(body, s.MaxSize+1)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("memory: read object: %w", err)
	}
	if s.MaxSize > 0 && int64(buf.Len()) > s.MaxSize {
		return "", fmt.Errorf("memory: object %s exceeds %d bytes", key, s.MaxSize)
	}
	s.mu.Lock()
	s.objects[key] = Object{Data: buf.Bytes(), ContentType: contentType}
	s.mu.Unlock()
	return s.Prefix + "/" + key, nil
}

// Get returns the object stored under key.
func (s *ObjectStore) Get(key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[strings.Trim(key, "/")]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	return obj, nil
}

func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
