package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/search"
)

// searchNames returns the current result names for raw across all
// drives, nil on any error. Meant for polling assertions.
func searchNames(eng *Engine, raw string) []string {
	updates, err := eng.CompileAndSearch(context.Background(), raw, search.Scope{}, "")
	if err != nil {
		return nil
	}
	results, _ := drainUpdates(updates)
	return resultNames(results)
}

func TestEngine_WatchPipelineIndexesNewFiles(t *testing.T) {
	root := seedDrive(t, map[string]string{"briefing_a.txt": "a"})
	eng := newTestEngine(t, testConfig(t, root))
	_, err := eng.BuildIndex(context.Background(), search.Scope{})
	require.NoError(t, err)
	require.NoError(t, eng.StartWatching(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(root, "briefing_live.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		return len(searchNames(eng, "briefing_live")) == 1
	}, 5*time.Second, 20*time.Millisecond, "created file never reached the index")
}

func TestEngine_WatchPipelineDropsDeletedFiles(t *testing.T) {
	root := seedDrive(t, map[string]string{
		"briefing_a.txt": "a",
		"briefing_b.txt": "b",
	})
	eng := newTestEngine(t, testConfig(t, root))
	_, err := eng.BuildIndex(context.Background(), search.Scope{})
	require.NoError(t, err)
	require.NoError(t, eng.StartWatching(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(root, "briefing_b.txt")))

	require.Eventually(t, func() bool {
		return len(searchNames(eng, "briefing_b")) == 0
	}, 5*time.Second, 20*time.Millisecond, "deleted file still in the index")
	assert.Equal(t, []string{"briefing_a.txt"}, searchNames(eng, "briefing_a"))
}

func TestEngine_StartWatchingTwiceFails(t *testing.T) {
	eng := newTestEngine(t, testConfig(t, t.TempDir()))
	require.NoError(t, eng.StartWatching(context.Background()))

	err := eng.StartWatching(context.Background())

	require.Error(t, err)
	assert.Equal(t, seekerrors.ErrCodeInternal, seekerrors.GetCode(err))
}

func TestEngine_StopWatchingAllowsRestart(t *testing.T) {
	eng := newTestEngine(t, testConfig(t, t.TempDir()))

	require.NoError(t, eng.StartWatching(context.Background()))
	eng.StopWatching()
	require.NoError(t, eng.StartWatching(context.Background()))
	eng.StopWatching()
}
