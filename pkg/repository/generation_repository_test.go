package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/repository"
	"github.com/codeready-toolchain/forge/test/util"
)

type repos struct {
	db          *sql.DB
	generations *repository.GenerationRepository
	projects    *repository.ProjectRepository
}

func newRepos(t *testing.T) repos {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return repos{
		db:          db,
		generations: repository.NewGenerationRepository(db),
		projects:    repository.NewProjectRepository(db),
	}
}

func (r repos) seedProject(t *testing.T, userID string) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   "Test Project",
		Status: models.ProjectStatusDraft,
	}
	require.NoError(t, r.projects.Create(context.Background(), p))
	return p
}

func (r repos) seedGeneration(t *testing.T, projectID, userID string, version int) *models.Generation {
	t.Helper()
	gen := &models.Generation{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Version:   version,
		Prompt:    fmt.Sprintf("prompt v%d", version),
		Status:    models.GenerationStatusPending,
	}
	require.NoError(t, r.generations.Create(context.Background(), gen))
	return gen
}

func TestGenerationCreateAndGet(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	gen := &models.Generation{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		UserID:    "alice",
		Version:   1,
		Prompt:    "Build a blog",
		Context:   map[string]any{"tech_stack": "fastapi_postgres"},
		Status:    models.GenerationStatusPending,
	}
	require.NoError(t, r.generations.Create(ctx, gen))

	got, err := r.generations.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, gen.ID, got.ID)
	assert.Equal(t, project.ID, got.ProjectID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "Build a blog", got.Prompt)
	assert.Equal(t, map[string]any{"tech_stack": "fastapi_postgres"}, got.Context)
	assert.Equal(t, models.GenerationStatusPending, got.Status)
	assert.False(t, got.IsIteration)
	assert.Nil(t, got.ClaimedBy)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	_, err = r.generations.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGenerationListByProject(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")
	other := r.seedProject(t, "alice")

	g1 := r.seedGeneration(t, project.ID, "alice", 1)
	g2 := r.seedGeneration(t, project.ID, "alice", 2)
	r.seedGeneration(t, other.ID, "alice", 1)

	gens, err := r.generations.ListByProject(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, g1.ID, gens[0].ID)
	assert.Equal(t, g2.ID, gens[1].ID)

	byVersion, err := r.generations.GetByProjectVersion(ctx, project.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, g2.ID, byVersion.ID)

	_, err = r.generations.GetByProjectVersion(ctx, project.ID, 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNextVersionMonotonic(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	for want := 1; want <= 3; want++ {
		v, err := r.generations.NextVersion(ctx, project.ID)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	_, err := r.generations.NextVersion(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// Concurrent version allocation must never hand out duplicates: the
// UPDATE ... RETURNING on the project row is the serialization point.
func TestNextVersionConcurrent(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	const n = 20
	versions := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.generations.NextVersion(ctx, project.ID)
			assert.NoError(t, err)
			versions <- v
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool, n)
	for v := range versions {
		assert.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
	assert.True(t, seen[n], "highest version must be %d", n)
}

func TestClaimNextPendingFIFO(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	g1 := r.seedGeneration(t, project.ID, "alice", 1)
	g2 := r.seedGeneration(t, project.ID, "alice", 2)

	claimed, err := r.generations.ClaimNextPending(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, g1.ID, claimed.ID)
	assert.Equal(t, models.GenerationStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "pod-a", *claimed.ClaimedBy)
	assert.NotNil(t, claimed.StartedAt)
	assert.NotNil(t, claimed.LastHeartbeat)

	claimed, err = r.generations.ClaimNextPending(ctx, "pod-b")
	require.NoError(t, err)
	assert.Equal(t, g2.ID, claimed.ID)

	_, err = r.generations.ClaimNextPending(ctx, "pod-a")
	assert.ErrorIs(t, err, repository.ErrNoPending)
}

func TestClaimSkipsNonPending(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	gen := r.seedGeneration(t, project.ID, "alice", 1)
	require.NoError(t, r.generations.UpdateStatus(ctx, gen.ID, models.GenerationStatusFailed, "cancelled by user"))

	_, err := r.generations.ClaimNextPending(ctx, "pod-a")
	assert.ErrorIs(t, err, repository.ErrNoPending)
}

func TestUpdateStatusTerminalSticky(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")
	gen := r.seedGeneration(t, project.ID, "alice", 1)

	require.NoError(t, r.generations.UpdateStatus(ctx, gen.ID, models.GenerationStatusProcessing, ""))
	got, err := r.generations.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, r.generations.UpdateStatus(ctx, gen.ID, models.GenerationStatusCompleted, ""))
	got, err = r.generations.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	completedAt := *got.CompletedAt

	// A later failed write must not overwrite the terminal state.
	require.NoError(t, r.generations.UpdateStatus(ctx, gen.ID, models.GenerationStatusFailed, "too late"))
	got, err = r.generations.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, completedAt, *got.CompletedAt)

	err = r.generations.UpdateStatus(ctx, "missing", models.GenerationStatusFailed, "x")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordOutputs(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")
	gen := r.seedGeneration(t, project.ID, "alice", 1)

	score := 0.92
	out := models.GenerationOutputs{
		StoragePath:      "/data/projects/p/generations/v1_abc",
		FileCount:        7,
		TotalSizeBytes:   4096,
		DiffFromPrevious: "--- a/main.py\n+++ b/main.py\n",
		ChangesSummary: &models.ChangesSummary{
			Added:      []string{"models/review.py"},
			LinesAdded: 40,
		},
		QualityScore: &score,
	}
	require.NoError(t, r.generations.RecordOutputs(ctx, gen.ID, out))

	got, err := r.generations.GetByID(ctx, gen.ID)
	require.NoError(t, err)
	assert.Equal(t, out.StoragePath, got.StoragePath)
	assert.Equal(t, 7, got.FileCount)
	assert.Equal(t, int64(4096), got.TotalSizeBytes)
	assert.Equal(t, out.DiffFromPrevious, got.DiffFromPrevious)
	require.NotNil(t, got.ChangesSummary)
	assert.Equal(t, []string{"models/review.py"}, got.ChangesSummary.Added)
	require.NotNil(t, got.QualityScore)
	assert.Equal(t, score, *got.QualityScore)
	assert.Nil(t, got.OutputFiles, "offloaded file map stays NULL")

	err = r.generations.RecordOutputs(ctx, "missing", out)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHeartbeatAndCounts(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	r.seedGeneration(t, project.ID, "alice", 1)
	r.seedGeneration(t, project.ID, "alice", 2)
	r.seedGeneration(t, project.ID, "alice", 3)

	claimed, err := r.generations.ClaimNextPending(ctx, "pod-a")
	require.NoError(t, err)

	pending, err := r.generations.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	processing, err := r.generations.CountProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processing)

	byPod, err := r.generations.CountProcessingByPod(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, 1, byPod)

	byPod, err = r.generations.CountProcessingByPod(ctx, "pod-b")
	require.NoError(t, err)
	assert.Equal(t, 0, byPod)

	before := *claimed.LastHeartbeat
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.generations.Heartbeat(ctx, claimed.ID))

	got, err := r.generations.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, got.LastHeartbeat.After(before), "heartbeat must advance")
}

func TestFailStartupOrphans(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	r.seedGeneration(t, project.ID, "alice", 1)
	r.seedGeneration(t, project.ID, "alice", 2)
	r.seedGeneration(t, project.ID, "alice", 3)

	mine1, err := r.generations.ClaimNextPending(ctx, "pod-a")
	require.NoError(t, err)
	mine2, err := r.generations.ClaimNextPending(ctx, "pod-a")
	require.NoError(t, err)
	theirs, err := r.generations.ClaimNextPending(ctx, "pod-b")
	require.NoError(t, err)

	count, err := r.generations.FailStartupOrphans(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []string{mine1.ID, mine2.ID} {
		got, err := r.generations.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.GenerationStatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "pod-a restarted")
		assert.NotNil(t, got.CompletedAt)
	}

	// The other pod's claim is untouched.
	got, err := r.generations.GetByID(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusProcessing, got.Status)

	count, err = r.generations.FailStartupOrphans(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFailStaleProcessing(t *testing.T) {
	r := newRepos(t)
	ctx := context.Background()
	project := r.seedProject(t, "alice")

	r.seedGeneration(t, project.ID, "alice", 1)
	r.seedGeneration(t, project.ID, "alice", 2)

	stale, err := r.generations.ClaimNextPending(ctx, "pod-a")
	require.NoError(t, err)
	fresh, err := r.generations.ClaimNextPending(ctx, "pod-b")
	require.NoError(t, err)

	// Age the first claim's heartbeat past the threshold.
	_, err = r.db.ExecContext(ctx,
		`UPDATE generations SET last_heartbeat = now() - interval '10 minutes' WHERE id = $1`,
		stale.ID)
	require.NoError(t, err)

	ids, err := r.generations.FailStaleProcessing(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	got, err := r.generations.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no heartbeat from pod pod-a")

	got, err = r.generations.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusProcessing, got.Status)

	ids, err = r.generations.FailStaleProcessing(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
