package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"videoflix/core/encoder"
	"videoflix/core/hls"
	"videoflix/db"
	"videoflix/model"
	"videoflix/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	mu     sync.Mutex
	calls  [][]string
	failOn func(args []string) error
}

func (f *fakeEncoder) Run(ctx context.Context, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	if f.failOn != nil {
		if err := f.failOn(args); err != nil {
			return err
		}
	}
	out := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("generated"), 0644)
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func isTrailer(args []string) bool   { return flagValue(args, "-profile:v") == "baseline" }
func isThumbnail(args []string) bool { return flagValue(args, "-frames:v") == "1" }

type fixture struct {
	root   string
	source string
	enc    *fakeEncoder
	videos repository.VideoRepository
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	source := filepath.Join(root, "video", "clip.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0755))
	require.NoError(t, os.WriteFile(source, []byte("source"), 0644))

	defaultThumb := filepath.Join(t.TempDir(), "default.jpg")
	require.NoError(t, os.WriteFile(defaultThumb, []byte("default-thumbnail"), 0644))

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })

	specs, err := hls.ParseRenditions("480p:854x480:800k,720p:1280x720:2800k")
	require.NoError(t, err)

	enc := &fakeEncoder{}
	builder := hls.NewBuilder(enc, hls.Settings{
		SegmentTime:      4,
		TrailerStart:     5,
		TrailerDuration:  5,
		ThumbnailAt:      1,
		DefaultThumbnail: defaultThumb,
	})
	videos := repository.NewGormVideoRepository(gdb)

	return &fixture{
		root:   root,
		source: source,
		enc:    enc,
		videos: videos,
		orch:   NewOrchestrator(root, specs, builder, videos, nil),
	}
}

func (f *fixture) createVideo(t *testing.T, id uint) *model.Video {
	t.Helper()
	video := &model.Video{ID: id, Title: "video", VideoFile: "video/clip.mp4"}
	require.NoError(t, f.videos.Create(context.Background(), video))
	return video
}

func (f *fixture) stagingEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.root, "hls", ".staging"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestConvertMissingSourceRunsNoEncoder(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 7)

	_, err := f.orch.Convert(context.Background(), 7, filepath.Join(f.root, "video", "missing.mp4"), DefaultOptions())
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Zero(t, f.enc.callCount())
}

func TestConvertUnknownVideo(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Convert(context.Background(), 99, f.source, DefaultOptions())
	assert.ErrorIs(t, err, repository.ErrVideoNotFound)
	assert.Zero(t, f.enc.callCount())
}

func TestConvertProducesPackageAndUpdatesRecord(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 7)

	master, err := f.orch.Convert(context.Background(), 7, f.source, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "hls", "7", "master.m3u8"), master)
	assert.FileExists(t, master)
	assert.FileExists(t, filepath.Join(f.root, "hls", "7", "480p", "index.m3u8"))
	assert.FileExists(t, filepath.Join(f.root, "hls", "7", "720p", "index.m3u8"))
	assert.FileExists(t, filepath.Join(f.root, "hls", "7", "trailer.mp4"))
	assert.FileExists(t, filepath.Join(f.root, "hls", "7", "thumbnail.jpg"))

	video, err := f.videos.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "hls/7/master.m3u8", video.HLSMaster)
	assert.Equal(t, "hls/7/trailer.mp4", video.Trailer)
	assert.Equal(t, "hls/7/thumbnail.jpg", video.Thumbnail)

	assert.Equal(t, 4, f.enc.callCount())
	assert.Empty(t, f.stagingEntries(t))
}

func TestConvertWithoutAuxArtifacts(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 3)

	_, err := f.orch.Convert(context.Background(), 3, f.source, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.enc.callCount())

	video, err := f.videos.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "hls/3/master.m3u8", video.HLSMaster)
	assert.Empty(t, video.Trailer)
	assert.Empty(t, video.Thumbnail)
	assert.NoFileExists(t, filepath.Join(f.root, "hls", "3", "trailer.mp4"))
}

func TestConvertRerunReplacesOutput(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 7)
	ctx := context.Background()

	_, err := f.orch.Convert(ctx, 7, f.source, DefaultOptions())
	require.NoError(t, err)
	stale := filepath.Join(f.root, "hls", "7", "stale.ts")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	_, err = f.orch.Convert(ctx, 7, f.source, DefaultOptions())
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(f.root, "hls", "7", "master.m3u8"))
	assert.Empty(t, f.stagingEntries(t))

	video, err := f.videos.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "hls/7/master.m3u8", video.HLSMaster)
}

func TestConvertTrailerFailureLeavesPreviousState(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 7)
	ctx := context.Background()

	_, err := f.orch.Convert(ctx, 7, f.source, DefaultOptions())
	require.NoError(t, err)
	before, err := f.videos.GetByID(ctx, 7)
	require.NoError(t, err)

	f.enc.failOn = func(args []string) error {
		if isTrailer(args) {
			return &encoder.EncodeFailure{ExitCode: 1, Output: "invalid data"}
		}
		return nil
	}
	_, err = f.orch.Convert(ctx, 7, f.source, DefaultOptions())

	var failure *encoder.EncodeFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.ExitCode)

	after, err := f.videos.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, before.HLSMaster, after.HLSMaster)
	assert.Equal(t, before.Trailer, after.Trailer)
	assert.Equal(t, before.Thumbnail, after.Thumbnail)
	assert.FileExists(t, filepath.Join(f.root, "hls", "7", "master.m3u8"))
	assert.Empty(t, f.stagingEntries(t))
}

func TestConvertRenditionFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 5)

	f.enc.failOn = func(args []string) error {
		if flagValue(args, "-b:v") == "2800k" {
			return &encoder.EncodeFailure{ExitCode: 1}
		}
		return nil
	}
	_, err := f.orch.Convert(context.Background(), 5, f.source, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "720p")

	video, err := f.videos.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, video.HLSMaster)
	assert.NoDirExists(t, filepath.Join(f.root, "hls", "5"))
	assert.Empty(t, f.stagingEntries(t))
}

func TestConvertThumbnailFallback(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 7)

	f.enc.failOn = func(args []string) error {
		if isThumbnail(args) {
			return &encoder.EncodeFailure{ExitCode: 1}
		}
		return nil
	}
	_, err := f.orch.Convert(context.Background(), 7, f.source, DefaultOptions())
	require.NoError(t, err)

	video, err := f.videos.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "hls/7/thumbnail.jpg", video.Thumbnail)

	content, err := os.ReadFile(filepath.Join(f.root, "hls", "7", "thumbnail.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "default-thumbnail", string(content))
}

type recordingPublisher struct {
	dir    string
	prefix string
}

func (p *recordingPublisher) UploadDirectory(ctx context.Context, localDir, prefix string) (int, error) {
	p.dir, p.prefix = localDir, prefix
	return 1, nil
}

func TestConvertPublishesFinishedTree(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 7)
	pub := &recordingPublisher{}
	f.orch.SetPublisher(pub)

	_, err := f.orch.Convert(context.Background(), 7, f.source, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "hls", "7"), pub.dir)
	assert.Equal(t, "hls/7", pub.prefix)
}

func TestRegenerateThumbnail(t *testing.T) {
	f := newFixture(t)
	f.createVideo(t, 4)

	path, err := f.orch.RegenerateThumbnail(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "hls", "4", "thumbnail.jpg"), path)
	assert.Equal(t, 1, f.enc.callCount())

	video, err := f.videos.GetByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "hls/4/thumbnail.jpg", video.Thumbnail)
	assert.Empty(t, video.HLSMaster)
}

func TestRegenerateThumbnailMissingOriginal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.videos.Create(context.Background(), &model.Video{ID: 9, Title: "gone", VideoFile: "video/gone.mp4"}))

	_, err := f.orch.RegenerateThumbnail(context.Background(), 9)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Zero(t, f.enc.callCount())
}

func TestCleanStaging(t *testing.T) {
	f := newFixture(t)
	leftover := filepath.Join(f.root, "hls", ".staging", "7-dead")
	require.NoError(t, os.MkdirAll(leftover, 0755))

	require.NoError(t, f.orch.CleanStaging())
	assert.NoDirExists(t, leftover)
}

func TestKeyedMutexSerializesSameID(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, 1)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(short, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := k.Lock(ctx, 2)
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := k.Lock(ctx, 1)
	require.NoError(t, err)
	again()

	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}
