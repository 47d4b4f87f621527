package media

import (
	"bytes"
	"context"
	"io"
	"sync"

	"cloud.google.com/go/storage"
)

// --- Mock GCS Client Components ---

type mockGCSObject struct {
	contentType string
	data        []byte
}

type mockGCSObjectHandle struct {
	obj *mockGCSObject
}

func (m *mockGCSObjectHandle) Attrs(_ context.Context) (*storage.ObjectAttrs, error) {
	if m.obj == nil {
		return nil, storage.ErrObjectNotExist
	}
	return &storage.ObjectAttrs{ContentType: m.obj.contentType, Size: int64(len(m.obj.data))}, nil
}

func (m *mockGCSObjectHandle) NewReader(_ context.Context) (io.ReadCloser, error) {
	if m.obj == nil {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(m.obj.data)), nil
}

// mockGCSBucketHandle serves objects from a map.
type mockGCSBucketHandle struct {
	sync.Mutex
	objects map[string]*mockGCSObject
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	return &mockGCSObjectHandle{obj: m.objects[name]}
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient(objects map[string]*mockGCSObject) *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{objects: objects}}
}

func (m *mockGCSClient) Bucket(_ string) GCSBucketHandle {
	return m.bucket
}
