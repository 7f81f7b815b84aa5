package cache

import (
	"context"
	"testing"
	"time"

	"videoflix/db"
	"videoflix/model"
	"videoflix/repository"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVideosKeepsArtifactRefs(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := encodeVideos([]*model.Video{{
		ID:        7,
		Title:     "Ocean",
		CreatedAt: created,
		VideoFile: "video/a.mp4",
		HLSMaster: "hls/7/master.m3u8",
		Trailer:   "hls/7/trailer.mp4",
		Thumbnail: "hls/7/thumbnail.jpg",
	}})
	require.NoError(t, err)

	videos, err := decodeVideos(data)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "video/a.mp4", videos[0].VideoFile)
	assert.Equal(t, "hls/7/master.m3u8", videos[0].HLSMaster)
	assert.Equal(t, "hls/7/thumbnail.jpg", videos[0].Thumbnail)
	assert.True(t, created.Equal(videos[0].CreatedAt))

	_, err = decodeVideos([]byte("{not json"))
	assert.Error(t, err)
}

// unreachableRedis fails every command quickly.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisOutageFallsBackToDatabase(t *testing.T) {
	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })

	repo := NewVideoRepository(repository.NewGormVideoRepository(gdb), unreachableRedis(t), time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Video{Title: "first"}))
	videos, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, videos, 1)

	require.NoError(t, repo.UpdateArtifacts(ctx, videos[0].ID, repository.Artifacts{HLSMaster: "hls/1/master.m3u8"}))
	require.NoError(t, repo.UpdateThumbnail(ctx, videos[0].ID, "hls/1/thumbnail.jpg"))

	got, err := repo.GetByID(ctx, videos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hls/1/thumbnail.jpg", got.Thumbnail)

	deleted, err := repo.Delete(ctx, videos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "first", deleted.Title)

	videos, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, videos)
}
