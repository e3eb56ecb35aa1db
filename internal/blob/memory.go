package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory keeps blobs in process memory. It is used when no endpoint is configured.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

func (m *Memory) Put(_ context.Context, name string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = Object{Data: data, ContentType: contentType}
	return nil
}

func (m *Memory) Get(_ context.Context, name string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return Object{}, ErrNotFound
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return Object{Data: data, ContentType: obj.ContentType}, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
