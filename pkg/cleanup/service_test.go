package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/forge/pkg/config"
)

type fakeStore struct {
	mu         sync.Mutex
	projectIDs []string
	listErr    error
	cleanupErr map[string]error
	archived   map[string][]string
	calls      map[string]int
}

func newFakeStore(projectIDs ...string) *fakeStore {
	return &fakeStore{
		projectIDs: projectIDs,
		cleanupErr: map[string]error{},
		archived:   map[string][]string{},
		calls:      map[string]int{},
	}
}

func (f *fakeStore) ProjectIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projectIDs, f.listErr
}

func (f *fakeStore) Cleanup(projectID string, _ int, _ time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[projectID]++
	if err := f.cleanupErr[projectID]; err != nil {
		return nil, err
	}
	return f.archived[projectID], nil
}

func (f *fakeStore) callCount(projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[projectID]
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		KeepLatest:     5,
		ArchiveAgeDays: 30,
		Interval:       time.Hour,
	}
}

func TestRunOnceCleansAllProjects(t *testing.T) {
	store := newFakeStore("proj-a", "proj-b", "proj-c")
	store.archived["proj-a"] = []string{"v1_old"}

	svc := NewService(retentionConfig(), store)
	svc.runOnce(context.Background())

	for _, id := range []string{"proj-a", "proj-b", "proj-c"} {
		assert.Equal(t, 1, store.callCount(id))
	}
}

func TestRunOnceContinuesPastProjectErrors(t *testing.T) {
	store := newFakeStore("proj-a", "proj-b")
	store.cleanupErr["proj-a"] = errors.New("disk full")

	svc := NewService(retentionConfig(), store)
	svc.runOnce(context.Background())

	assert.Equal(t, 1, store.callCount("proj-a"))
	assert.Equal(t, 1, store.callCount("proj-b"))
}

func TestRunOnceListFailure(t *testing.T) {
	store := newFakeStore("proj-a")
	store.listErr = errors.New("permission denied")

	svc := NewService(retentionConfig(), store)
	svc.runOnce(context.Background())

	assert.Equal(t, 0, store.callCount("proj-a"))
}

func TestServiceStartStop(t *testing.T) {
	store := newFakeStore("proj-a")
	cfg := retentionConfig()
	cfg.Interval = 10 * time.Millisecond

	svc := NewService(cfg, store)
	svc.Start(context.Background())

	assert.Eventually(t, func() bool {
		return store.callCount("proj-a") >= 2
	}, 2*time.Second, 5*time.Millisecond)

	svc.Stop()
	after := store.callCount("proj-a")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, store.callCount("proj-a"), "no cleanup runs after Stop")
}

func TestServiceStartIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := NewService(retentionConfig(), store)
	svc.Start(context.Background())
	svc.Start(context.Background()) // no-op
	svc.Stop()
}
