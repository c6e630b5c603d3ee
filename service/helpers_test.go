package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
)

type storedObject struct {
	data        []byte
	contentType string
}

// memStorage is an in-memory ObjectStorage
type memStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
	deleted []string
	baseURL string
	failPut error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string]storedObject), baseURL: "http://storage.test"}
}

func (m *memStorage) UploadFile(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	if m.failPut != nil {
		return m.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = storedObject{data: data, contentType: contentType}
	return nil
}

func (m *memStorage) PresignedURL(ctx context.Context, name string) (string, error) {
	return m.baseURL + "/" + name + "?signed=1", nil
}

func (m *memStorage) DeleteFile(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *memStorage) DownloadFile(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrObjectNotFound)
	}
	return obj.data, nil
}

func (m *memStorage) get(name string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[name]
	return obj, ok
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// buildZip packs files into a ZIP archive
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return buf.Bytes()
}
