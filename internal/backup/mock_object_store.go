package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
)

// MockObjectStore is an in-memory implementation of ObjectStore for testing.
// Call counters only count operations that got past the bucket existence check.
type MockObjectStore struct {
	mu          sync.Mutex
	clock       clock.Clock
	buckets     map[string]map[string]RemoteObject
	progress    []int
	deleteErrs  map[string]error
	existsErr   error
	uploadCalls int
	listCalls   int
	deleteCalls int
}

// NewMockObjectStore creates a new mock object store with no buckets
func NewMockObjectStore(clk clock.Clock) *MockObjectStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MockObjectStore{
		clock:      clk,
		buckets:    make(map[string]map[string]RemoteObject),
		deleteErrs: make(map[string]error),
	}
}

// AddBucket creates an empty bucket
func (m *MockObjectStore) AddBucket(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]RemoteObject)
	}
}

// AddObject adds an object, creating the bucket if needed
func (m *MockObjectStore) AddObject(bucket, key string, lastModified time.Time, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string]RemoteObject)
	}
	m.buckets[bucket][key] = RemoteObject{Key: key, LastModified: lastModified, Size: size}
}

// SetProgress sets the percentages reported to the progress callback on upload.
// By default a single 100 is reported.
func (m *MockObjectStore) SetProgress(percents ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = percents
}

// SetDeleteError makes DeleteObject fail for key
func (m *MockObjectStore) SetDeleteError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErrs[key] = err
}

// SetBucketExistsError makes every existence check fail with err
func (m *MockObjectStore) SetBucketExistsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsErr = err
}

// Objects returns the objects in a bucket sorted by key
func (m *MockObjectStore) Objects(bucket string) []RemoteObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedObjects(bucket)
}

// UploadCalls returns how many uploads reached the transfer step
func (m *MockObjectStore) UploadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploadCalls
}

// ListCalls returns how many listings reached the list step
func (m *MockObjectStore) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// DeleteCalls returns how many deletes reached the delete step
func (m *MockObjectStore) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

// BucketExists implements ObjectStore.BucketExists
func (m *MockObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketExists(bucket)
}

// UploadMultipart implements ObjectStore.UploadMultipart
func (m *MockObjectStore) UploadMultipart(ctx context.Context, localPath, bucket, key string, onProgress ProgressFunc) error {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, localPath)
		}
		return err
	}

	m.mu.Lock()
	if err := m.requireBucket(bucket); err != nil {
		m.mu.Unlock()
		return err
	}
	m.uploadCalls++
	m.buckets[bucket][key] = RemoteObject{Key: key, LastModified: m.clock.Now(), Size: info.Size()}
	progress := m.progress
	m.mu.Unlock()

	if onProgress == nil {
		return nil
	}
	if len(progress) == 0 {
		progress = []int{100}
	}
	for _, percent := range progress {
		onProgress(percent)
	}
	return nil
}

// ListObjects implements ObjectStore.ListObjects
func (m *MockObjectStore) ListObjects(ctx context.Context, bucket string) ([]RemoteObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBucket(bucket); err != nil {
		return nil, err
	}
	m.listCalls++
	return m.sortedObjects(bucket), nil
}

// DeleteObject implements ObjectStore.DeleteObject
func (m *MockObjectStore) DeleteObject(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireBucket(bucket); err != nil {
		return err
	}
	m.deleteCalls++
	if err, ok := m.deleteErrs[key]; ok {
		return err
	}
	delete(m.buckets[bucket], key)
	return nil
}

func (m *MockObjectStore) bucketExists(bucket string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *MockObjectStore) requireBucket(bucket string) error {
	exists, err := m.bucketExists(bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	return nil
}

func (m *MockObjectStore) sortedObjects(bucket string) []RemoteObject {
	objects := make([]RemoteObject, 0, len(m.buckets[bucket]))
	for _, obj := range m.buckets[bucket] {
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})
	return objects
}
