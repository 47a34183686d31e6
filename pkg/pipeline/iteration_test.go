package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
	"github.com/codeready-toolchain/forge/pkg/provider"
)

func iterationGeneration(prompt string) *models.Generation {
	parent := "gen-parent"
	return &models.Generation{
		ID:                 "gen-iter",
		ProjectID:          "proj-1",
		UserID:             "alice",
		Version:            2,
		Prompt:             prompt,
		IsIteration:        true,
		ParentGenerationID: &parent,
		Status:             models.GenerationStatusProcessing,
	}
}

func parentFiles() models.FileMap {
	return models.FileMap{
		"main.py":          "app = FastAPI()\n",
		"models/user.py":   "class User(Base): pass\n",
		"routers/users.py": "@router.get(\"/users\")\n",
		"requirements.txt": "fastapi\n",
	}
}

func TestIterationAddMergesNewFiles(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, prompt string, _ models.Schema, contextMap map[string]any) (models.FileMap, error) {
			assert.True(t, provider.IsIteration(contextMap))
			assert.Contains(t, prompt, "ITERATION REQUEST")
			return models.FileMap{
				"models/post.py":   "class Post(Base): pass\n",
				"routers/posts.py": "@router.get(\"/posts\")\n",
			}, nil
		},
	}

	existing := parentFiles()
	e := NewIterationEngine(0.8, false, nil)
	var captured []events.GenerationEvent

	res, err := e.Run(context.Background(), prov, iterationGeneration("Add a posts endpoint"), existing, captureSink(&captured))

	require.NoError(t, err)
	assert.Equal(t, IntentAdd, res.Intent)
	assert.Len(t, res.Files, 6)
	assert.Contains(t, res.Files, "models/post.py")
	assert.Contains(t, res.Files, "main.py")
	assert.Equal(t, []string{"models/post.py", "routers/posts.py"}, res.Summary.Added)
	assert.Empty(t, res.Summary.Removed)
	// The parent map itself is untouched.
	assert.Len(t, existing, 4)
}

func TestIterationModifyOverwritesOnCollision(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, _ string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			return models.FileMap{"main.py": "app = FastAPI(title=\"v2\")\n"}, nil
		},
	}

	e := NewIterationEngine(0.8, false, nil)
	res, err := e.Run(context.Background(), prov, iterationGeneration("Fix the app title"), parentFiles(), nil)

	require.NoError(t, err)
	assert.Equal(t, IntentModify, res.Intent)
	assert.Len(t, res.Files, 4)
	assert.Equal(t, "app = FastAPI(title=\"v2\")\n", res.Files["main.py"])
	assert.Equal(t, []string{"main.py"}, res.Summary.Modified)
}

func TestIterationRemoveSubtractsChangedKeys(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, _ string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			return models.FileMap{"routers/users.py": ""}, nil
		},
	}

	e := NewIterationEngine(0.8, false, nil)
	res, err := e.Run(context.Background(), prov, iterationGeneration("Remove the users router"), parentFiles(), nil)

	require.NoError(t, err)
	assert.Equal(t, IntentRemove, res.Intent)
	assert.Len(t, res.Files, 3)
	assert.NotContains(t, res.Files, "routers/users.py")
	assert.Equal(t, []string{"routers/users.py"}, res.Summary.Removed)
}

func TestIterationNoChangesKeepsParentFiles(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, _ string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			return models.FileMap{}, nil
		},
	}

	e := NewIterationEngine(0.8, false, nil)
	var captured []events.GenerationEvent

	res, err := e.Run(context.Background(), prov, iterationGeneration("Improve things"), parentFiles(), captureSink(&captured))

	require.NoError(t, err)
	assert.True(t, res.NoChanges)
	assert.Equal(t, parentFiles(), res.Files)
	assert.True(t, res.Summary.Empty())
	assert.Contains(t, stageNames(captured), events.StageNoChanges)
	assert.NotContains(t, stageNames(captured), events.StageMergingFiles)
}

func TestIterationDataLossAborts(t *testing.T) {
	e := NewIterationEngine(0.8, false, nil)

	// Exercise the guard directly: 2 of 10 files survive.
	existing := models.FileMap{}
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		existing[p] = "x"
	}
	result := models.FileMap{"a": "x", "b": "x"}
	var captured []events.GenerationEvent

	err := e.validateMerge(testGeneration(), existing, result, IntentModify, captureSink(&captured), e.logger)

	require.ErrorIs(t, err, ErrDataLossDetected)
	require.Len(t, captured, 1)
	assert.Equal(t, events.StageValidation, captured[0].Stage)
	assert.Equal(t, events.WarningDataLossDetection, captured[0].WarningType)
	assert.Equal(t, 10, captured[0].Metadata["existing_files"])
	assert.Equal(t, 2, captured[0].Metadata["result_files"])
}

func TestIterationDataLossWarnOnlyProceeds(t *testing.T) {
	e := NewIterationEngine(0.8, true, nil)

	existing := models.FileMap{"a": "x", "b": "x", "c": "x", "d": "x", "e": "x"}
	result := models.FileMap{"a": "x"}
	var captured []events.GenerationEvent

	err := e.validateMerge(testGeneration(), existing, result, IntentModify, captureSink(&captured), e.logger)

	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, events.WarningDataLossDetection, captured[0].WarningType)
}

func TestIterationRemoveIntentSkipsDataLossGuard(t *testing.T) {
	e := NewIterationEngine(0.8, false, nil)

	existing := models.FileMap{"a": "x", "b": "x", "c": "x", "d": "x"}
	result := models.FileMap{"a": "x"}

	err := e.validateMerge(testGeneration(), existing, result, IntentRemove, nil, e.logger)

	assert.NoError(t, err)
}

func TestIterationEmptyResultFails(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, _ string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			return models.FileMap{"main.py": ""}, nil
		},
	}

	e := NewIterationEngine(0, false, nil)
	gen := iterationGeneration("Delete everything, remove main.py")
	_, err := e.Run(context.Background(), prov, gen, models.FileMap{"main.py": "x"}, nil)

	require.ErrorIs(t, err, ErrIterationProducedEmpty)
}

func TestIterationEventSequence(t *testing.T) {
	prov := &stubProvider{
		generate: func(_ context.Context, _ string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			return models.FileMap{"models/post.py": "class Post: pass\n"}, nil
		},
	}

	e := NewIterationEngine(0.8, false, nil)
	var captured []events.GenerationEvent

	_, err := e.Run(context.Background(), prov, iterationGeneration("Add posts"), parentFiles(), captureSink(&captured))

	require.NoError(t, err)
	assert.Equal(t, []string{
		events.StageIterationStart,
		events.StageIntentDetection,
		events.StageContextBuilding,
		events.StageCodeGeneration,
		events.StageMergingFiles,
		events.StageIterationComplete,
	}, stageNames(captured))

	assert.InDelta(t, 0.05, captured[0].Progress, 1e-9)
	assert.InDelta(t, 0.10, captured[1].Progress, 1e-9)
	assert.Equal(t, "add", captured[1].Metadata["intent"])
	assert.InDelta(t, 1.0, captured[5].Progress, 1e-9)
	assert.Equal(t, 5, captured[5].Metadata["file_count"])
}

func TestIterationMalformedRetriedWithStricterPrompt(t *testing.T) {
	calls := 0
	prov := &stubProvider{
		generate: func(_ context.Context, prompt string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			calls++
			if calls == 1 {
				return nil, provider.NewError(provider.KindMalformed, "stub", "bad json", nil)
			}
			assert.Contains(t, prompt, "ONLY a single valid JSON object")
			return models.FileMap{"main.py": "fixed\n"}, nil
		},
	}

	e := NewIterationEngine(0, false, nil)
	res, err := e.Run(context.Background(), prov, iterationGeneration("Fix main"), parentFiles(), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "fixed\n", res.Files["main.py"])
}

func TestIterationsOnSameParentSerialize(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	prov := &stubProvider{
		generate: func(_ context.Context, _ string, _ models.Schema, _ map[string]any) (models.FileMap, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return models.FileMap{"models/extra.py": "x\n"}, nil
		},
	}

	e := NewIterationEngine(0, false, nil)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Run(context.Background(), prov, iterationGeneration("Add extra"), parentFiles(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
}
