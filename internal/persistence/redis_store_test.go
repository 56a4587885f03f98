package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a live server: STORIES_TEST_REDIS_ADDR=localhost:6379 go test ./...
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("STORIES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STORIES_TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(context.Background(), RedisOptions{
		Addr:   addr,
		Prefix: "stories-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		all, _ := store.LoadJobs(context.Background())
		for _, j := range all {
			_ = store.DeleteJob(context.Background(), j.ID)
		}
		_ = store.Close()
	})
	return store
}

func TestRedisStore_JobsRoundTripAndPrune(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)
	recent := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.UpsertJob(ctx, &jobs.Job{ID: "old", Kind: jobs.KindTextToSpeech, Status: jobs.StatusCompleted, ResultRef: "f1", CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, store.UpsertJob(ctx, &jobs.Job{ID: "new", Kind: jobs.KindDocumentIngest, Status: jobs.StatusProcessing, CreatedAt: recent, UpdatedAt: recent}))

	all, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "old", all[0].ID)
	assert.Equal(t, "f1", all[0].ResultRef)

	removed, err := store.PruneTerminal(ctx, recent.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)

	all, err = store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].ID)
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{})
	require.Error(t, err)
	assert.Nil(t, NewRedisClient(RedisOptions{}))
}
