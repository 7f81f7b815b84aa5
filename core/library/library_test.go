package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"videoflix/core/hls"
	"videoflix/core/pipeline"
	"videoflix/core/queue"
	"videoflix/db"
	"videoflix/model"
	"videoflix/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touchEncoder writes its output file (the last argument).
type touchEncoder struct{}

func (touchEncoder) Run(ctx context.Context, args ...string) error {
	out := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("generated"), 0644)
}

type fakeMirror struct {
	deleted []string
}

func (m *fakeMirror) DeleteDirectory(ctx context.Context, prefix string) (int, error) {
	m.deleted = append(m.deleted, prefix)
	return 3, nil
}

type testEnv struct {
	root   string
	videos repository.VideoRepository
	jobs   *queue.MemoryQueue
	lib    *Library
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })

	specs, err := hls.ParseRenditions("480p:854x480:800k")
	require.NoError(t, err)

	videos := repository.NewGormVideoRepository(gdb)
	orch := pipeline.NewOrchestrator(root, specs, hls.NewBuilder(touchEncoder{}, hls.Settings{TrailerDuration: 5}), videos, nil)
	jobs := queue.NewMemoryQueue(16)

	return &testEnv{root: root, videos: videos, jobs: jobs, lib: New(root, videos, jobs, orch)}
}

func (e *testEnv) writeOriginal(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(e.root, "video", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("original"), 0644))
	return p
}

func (e *testEnv) nextJob(t *testing.T) queue.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := e.jobs.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestIngestStoresFileAndEnqueues(t *testing.T) {
	env := newTestEnv(t)

	video, err := env.lib.Ingest(context.Background(), Upload{
		Title:       "  Surfing  ",
		Description: "big waves",
		Filename:    "Surf Clip.MP4",
		Body:        strings.NewReader("mp4-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Surfing", video.Title)
	assert.Equal(t, model.DefaultCategory, video.Category)
	assert.True(t, strings.HasPrefix(video.VideoFile, "video/"))
	assert.True(t, strings.HasSuffix(video.VideoFile, ".mp4"))

	stored := filepath.Join(env.root, filepath.FromSlash(video.VideoFile))
	content, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(content))

	job := env.nextJob(t)
	assert.Equal(t, queue.KindHLS, job.Kind)
	assert.Equal(t, video.ID, job.VideoID)
	assert.True(t, job.MakeTrailer)
	assert.True(t, job.MakeThumbnail)
	assert.Equal(t, filepath.Base(stored), filepath.Base(job.SourcePath))
	assert.FileExists(t, job.SourcePath)
}

func TestIngestRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.lib.Ingest(ctx, Upload{Title: "", Filename: "a.mp4", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.lib.Ingest(ctx, Upload{Title: strings.Repeat("x", 81), Filename: "a.mp4", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.lib.Ingest(ctx, Upload{Title: "script", Filename: "run.sh", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.NoDirExists(t, filepath.Join(env.root, "video"))
	assert.Zero(t, env.jobs.Len())
}

func TestIngestDuplicateTitleRemovesFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.lib.Ingest(ctx, Upload{Title: "Same", Filename: "a.mp4", Body: strings.NewReader("x")})
	require.NoError(t, err)
	_, err = env.lib.Ingest(ctx, Upload{Title: "Same", Filename: "b.mp4", Body: strings.NewReader("y")})
	assert.ErrorIs(t, err, repository.ErrDuplicateTitle)

	entries, err := os.ReadDir(filepath.Join(env.root, "video"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIngestReportsEnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.jobs.Close())

	video, err := env.lib.Ingest(context.Background(), Upload{Title: "Late", Filename: "a.mp4", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrEnqueueFailed)
	require.NotNil(t, video)
	_, getErr := env.videos.GetByID(context.Background(), video.ID)
	assert.NoError(t, getErr)
}

func TestRestoreCreatesMissingRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeOriginal(t, "holiday.mp4")
	env.writeOriginal(t, "holiday.mov")
	env.writeOriginal(t, "notes.txt")
	env.writeOriginal(t, ".partial.mp4")
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "video", "subdir"), 0755))

	restored, err := env.lib.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	video, err := env.videos.GetByVideoFile(ctx, "video/holiday.mov")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(video.Title, "holiday"))

	restored, err = env.lib.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestRegisterRejectsFilesOutsideVideoDir(t *testing.T) {
	env := newTestEnv(t)
	p := filepath.Join(env.root, "hls", "x.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	_, _, err := env.lib.Register(context.Background(), p)
	assert.Error(t, err)
}

func TestEnqueueAllSkipsVideosWithoutOriginal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeOriginal(t, "a.mp4")
	require.NoError(t, env.videos.Create(ctx, &model.Video{Title: "a", VideoFile: "video/a.mp4"}))
	require.NoError(t, env.videos.Create(ctx, &model.Video{Title: "orphan"}))

	n, err := env.lib.EnqueueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, queue.KindHLS, env.nextJob(t).Kind)
}

func TestEnqueueMissingThumbnails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	thumb := filepath.Join(env.root, "hls", "1", "thumbnail.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(thumb), 0755))
	require.NoError(t, os.WriteFile(thumb, []byte("jpg"), 0644))

	require.NoError(t, env.videos.Create(ctx, &model.Video{ID: 1, Title: "has", Thumbnail: "hls/1/thumbnail.jpg"}))
	require.NoError(t, env.videos.Create(ctx, &model.Video{ID: 2, Title: "stale", Thumbnail: "hls/2/thumbnail.jpg"}))
	require.NoError(t, env.videos.Create(ctx, &model.Video{ID: 3, Title: "none"}))

	n, err := env.lib.EnqueueMissingThumbnails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids := map[uint]bool{}
	for i := 0; i < n; i++ {
		job := env.nextJob(t)
		assert.Equal(t, queue.KindThumbnail, job.Kind)
		ids[job.VideoID] = true
	}
	assert.Equal(t, map[uint]bool{2: true, 3: true}, ids)
}

func TestHandleJobRunsPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	source := env.writeOriginal(t, "a.mp4")
	video := &model.Video{Title: "a", VideoFile: "video/a.mp4"}
	require.NoError(t, env.videos.Create(ctx, video))

	err := env.lib.HandleJob(ctx, queue.Job{Kind: queue.KindHLS, VideoID: video.ID, SourcePath: source})
	require.NoError(t, err)

	got, err := env.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.True(t, got.HasHLS())
	assert.Empty(t, got.Thumbnail)

	require.NoError(t, env.lib.HandleJob(ctx, queue.Job{Kind: queue.KindThumbnail, VideoID: video.ID}))
	got, err = env.videos.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Thumbnail)

	assert.Error(t, env.lib.HandleJob(ctx, queue.Job{Kind: "bogus", VideoID: video.ID}))
}

func TestDeleteRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mirror := &fakeMirror{}
	env.lib.SetMirror(mirror)

	source := env.writeOriginal(t, "a.mp4")
	video := &model.Video{Title: "a", VideoFile: "video/a.mp4"}
	require.NoError(t, env.videos.Create(ctx, video))
	require.NoError(t, env.lib.HandleJob(ctx, queue.Job{Kind: queue.KindHLS, VideoID: video.ID, SourcePath: source, MakeTrailer: true}))
	outDir := filepath.Join(env.root, "hls", "1")
	require.DirExists(t, outDir)

	require.NoError(t, env.lib.Delete(ctx, video.ID))
	assert.NoDirExists(t, outDir)
	assert.NoFileExists(t, source)
	assert.Equal(t, []string{"hls/1"}, mirror.deleted)

	_, err := env.videos.GetByID(ctx, video.ID)
	assert.ErrorIs(t, err, repository.ErrVideoNotFound)

	err = env.lib.Delete(ctx, video.ID)
	assert.True(t, errors.Is(err, repository.ErrVideoNotFound))
}

func TestWatcherRegistersDroppedFiles(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.lib.VideoDir(), 0755))

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(env.lib, 50*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// let the watcher register the directory
	time.Sleep(100 * time.Millisecond)
	env.writeOriginal(t, "dropped.mp4")
	env.writeOriginal(t, "ignored.txt")

	require.Eventually(t, func() bool {
		_, err := env.videos.GetByVideoFile(context.Background(), "video/dropped.mp4")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	job := env.nextJob(t)
	assert.Equal(t, queue.KindHLS, job.Kind)
	assert.Equal(t, "dropped.mp4", filepath.Base(job.SourcePath))

	_, err := env.videos.GetByVideoFile(context.Background(), "video/ignored.txt")
	assert.ErrorIs(t, err, repository.ErrVideoNotFound)
}
