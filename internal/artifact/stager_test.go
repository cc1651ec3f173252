package artifact

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"distributed-download-service/internal/job"
)

// fakeStorage is an in-memory Storage used for tests instead of a real S3
// bucket, the same role miniredis played for the teacher's Redis-backed
// rate limiter.
type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failPuts  int
	healthErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) PutDescriptor(_ context.Context, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts > 0 {
		f.failPuts--
		return Transient(errors.New("storage unreachable"))
	}
	f.objects[key] = body
	return nil
}

func (f *fakeStorage) PresignGet(_ context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", time.Time{}, Permanent(errors.New("object missing"))
	}
	return "https://example-bucket.s3.amazonaws.com/" + key, time.Now().Add(ttl), nil
}

func (f *fakeStorage) HealthCheck(context.Context) error {
	return f.healthErr
}

func TestStageWritesDescriptorAndPresigns(t *testing.T) {
	storage := newFakeStorage()
	stager := New(storage, 15*time.Minute)

	j := job.Job{
		JobID:   "job-1",
		UserID:  "user-1",
		FileIDs: []int64{70000, 70001},
	}

	result, err := stager.Stage(context.Background(), j, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.URL == "" {
		t.Fatalf("expected non-empty presigned URL")
	}
	if result.Checksum == "" {
		t.Fatalf("expected non-empty checksum")
	}
	if result.Size == 0 {
		t.Fatalf("expected non-zero descriptor size")
	}
	if !result.URLExpiresAt.After(time.Now()) {
		t.Fatalf("expected urlExpiresAt in the future")
	}
}

func TestStagePropagatesTransientError(t *testing.T) {
	storage := newFakeStorage()
	storage.failPuts = 1
	stager := New(storage, 15*time.Minute)

	j := job.Job{JobID: "job-1", UserID: "user-1", FileIDs: []int64{70000}}
	_, err := stager.Stage(context.Background(), j, time.Now())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestComposeKeyStripsTraversal(t *testing.T) {
	key, err := composeKey("../../etc", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == "" {
		t.Fatalf("expected a sanitized key")
	}
	if containsDotDot(key) {
		t.Fatalf("expected traversal segments to be stripped, got %q", key)
	}
}

func containsDotDot(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return true
		}
	}
	return false
}
