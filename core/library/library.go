// Package library owns the video catalogue on disk: storing uploads,
// scheduling pipeline jobs and removing everything a video left behind.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"videoflix/core/mediapath"
	"videoflix/core/pipeline"
	"videoflix/core/queue"
	"videoflix/core/utils"
	"videoflix/logger"
	"videoflix/model"
	"videoflix/repository"

	"github.com/google/uuid"
)

const (
	videoDirName  = "video"
	maxTitleRunes = 80
)

var (
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrInvalidInput      = errors.New("invalid video metadata")
	ErrEnqueueFailed     = errors.New("could not schedule processing")
)

var supportedExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// IsSupportedVideo reports whether name has an accepted video extension.
func IsSupportedVideo(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// ObjectRemover deletes mirrored objects below a prefix.
type ObjectRemover interface {
	DeleteDirectory(ctx context.Context, prefix string) (int, error)
}

// Library coordinates files below the media root with the video records.
type Library struct {
	root   string
	videos repository.VideoRepository
	jobs   queue.Queue
	orch   *pipeline.Orchestrator
	mirror ObjectRemover

	// originals being written by Ingest; the watcher must not claim them
	pending sync.Map
}

// New creates a Library.
func New(mediaRoot string, videos repository.VideoRepository, jobs queue.Queue, orch *pipeline.Orchestrator) *Library {
	return &Library{root: mediaRoot, videos: videos, jobs: jobs, orch: orch}
}

// SetMirror makes Delete remove mirrored objects as well.
func (l *Library) SetMirror(m ObjectRemover) {
	l.mirror = m
}

// Root returns the media root.
func (l *Library) Root() string {
	return l.root
}

// VideoDir is where originals are stored.
func (l *Library) VideoDir() string {
	return filepath.Join(l.root, videoDirName)
}

// Upload is a new video as received from a client.
type Upload struct {
	Title       string
	Description string
	Category    string
	Filename    string
	Body        io.Reader
}

// Ingest stores the upload under video/<uuid><ext>, creates the record and
// schedules the HLS job. When only scheduling fails the stored video is
// returned together with an error wrapping ErrEnqueueFailed.
func (l *Library) Ingest(ctx context.Context, up Upload) (*model.Video, error) {
	title := strings.TrimSpace(up.Title)
	if title == "" || len([]rune(title)) > maxTitleRunes {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTitleRunes)
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	rel := path.Join(videoDirName, uuid.NewString()+ext)
	abs, err := mediapath.Resolve(l.root, filepath.FromSlash(rel))
	if err != nil {
		return nil, err
	}

	l.pending.Store(rel, struct{}{})
	defer l.pending.Delete(rel)

	size, err := utils.SaveStream(up.Body, abs)
	if err != nil {
		return nil, err
	}

	video := &model.Video{
		Title:       title,
		Description: strings.TrimSpace(up.Description),
		Category:    strings.TrimSpace(up.Category),
		VideoFile:   rel,
	}
	if err := l.videos.Create(ctx, video); err != nil {
		os.Remove(abs)
		return nil, err
	}

	logger.Info("Video uploaded",
		logger.VideoID(video.ID),
		logger.String("file", rel),
		logger.Int64("bytes", size))

	if err := l.jobs.Enqueue(ctx, hlsJob(video.ID, abs)); err != nil {
		logger.Error("Failed to enqueue HLS job", logger.VideoID(video.ID), logger.ErrorField(err))
		return video, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	return video, nil
}

func hlsJob(videoID uint, source string) queue.Job {
	return queue.Job{
		Kind:          queue.KindHLS,
		VideoID:       videoID,
		SourcePath:    source,
		MakeTrailer:   true,
		MakeThumbnail: true,
	}
}

// Register makes sure an original already stored below video/ has a record.
// The title defaults to the file name without extension. created is false
// when a record for the file existed.
func (l *Library) Register(ctx context.Context, absPath string) (*model.Video, bool, error) {
	rel, err := mediapath.RelToRoot(l.root, absPath)
	if err != nil {
		return nil, false, err
	}
	if path.Dir(rel) != videoDirName {
		return nil, false, fmt.Errorf("%s is not an original video", rel)
	}
	if _, busy := l.pending.Load(rel); busy {
		return nil, false, nil
	}

	if existing, err := l.videos.GetByVideoFile(ctx, rel); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrVideoNotFound) {
		return nil, false, err
	}

	base := path.Base(rel)
	title := truncateRunes(strings.TrimSuffix(base, path.Ext(base)), maxTitleRunes)
	video := &model.Video{Title: title, VideoFile: rel}
	err = l.videos.Create(ctx, video)
	if errors.Is(err, repository.ErrDuplicateTitle) {
		suffix := "-" + uuid.NewString()[:8]
		video = &model.Video{Title: truncateRunes(title, maxTitleRunes-len(suffix)) + suffix, VideoFile: rel}
		err = l.videos.Create(ctx, video)
	}
	if err != nil {
		return nil, false, err
	}
	return video, true, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Restore recreates records for originals in video/ that have none and
// returns how many were created.
func (l *Library) Restore(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.VideoDir())
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", l.VideoDir(), err)
	}

	restored := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") || !IsSupportedVideo(entry.Name()) {
			continue
		}
		video, created, err := l.Register(ctx, filepath.Join(l.VideoDir(), entry.Name()))
		if err != nil {
			return restored, fmt.Errorf("restore %s: %w", entry.Name(), err)
		}
		if created {
			restored++
			logger.Info("Restored video", logger.VideoID(video.ID), logger.String("file", video.VideoFile))
		}
	}
	return restored, nil
}

// SourcePath returns the absolute path of the stored original.
func (l *Library) SourcePath(video *model.Video) (string, error) {
	if video.VideoFile == "" {
		return "", fmt.Errorf("%w: video %d has no original file", pipeline.ErrSourceNotFound, video.ID)
	}
	return mediapath.Resolve(l.root, filepath.FromSlash(video.VideoFile))
}

// EnqueueHLS schedules a full pipeline run for one video.
func (l *Library) EnqueueHLS(ctx context.Context, video *model.Video) error {
	source, err := l.SourcePath(video)
	if err != nil {
		return err
	}
	return l.jobs.Enqueue(ctx, hlsJob(video.ID, source))
}

// EnqueueAll schedules a pipeline run for every video with an original.
func (l *Library) EnqueueAll(ctx context.Context) (int, error) {
	videos, err := l.videos.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, video := range videos {
		if err := l.EnqueueHLS(ctx, video); err != nil {
			if errors.Is(err, pipeline.ErrSourceNotFound) {
				logger.Warn("Skipping video without original", logger.VideoID(video.ID))
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// EnqueueMissingThumbnails schedules thumbnail jobs for videos whose
// thumbnail reference is empty or points at a missing file.
func (l *Library) EnqueueMissingThumbnails(ctx context.Context) (int, error) {
	videos, err := l.videos.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, video := range videos {
		if l.artifactExists(video.Thumbnail) {
			continue
		}
		job := queue.Job{Kind: queue.KindThumbnail, VideoID: video.ID}
		if err := l.jobs.Enqueue(ctx, job); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (l *Library) artifactExists(ref string) bool {
	if ref == "" {
		return false
	}
	p, err := mediapath.Resolve(l.root, filepath.FromSlash(ref))
	if err != nil {
		return false
	}
	return utils.FileExists(p)
}

// Delete removes the record, the HLS tree, the original and any mirrored
// objects. File cleanup failures are logged; the record is gone regardless.
func (l *Library) Delete(ctx context.Context, id uint) error {
	video, err := l.videos.Delete(ctx, id)
	if err != nil {
		return err
	}

	if err := l.orch.RemoveOutput(ctx, id); err != nil {
		logger.Warn("Failed to remove HLS output", logger.VideoID(id), logger.ErrorField(err))
	}

	if video.VideoFile != "" {
		if p, err := mediapath.Resolve(l.root, filepath.FromSlash(video.VideoFile)); err != nil {
			logger.Warn("Refusing to remove original outside media root", logger.VideoID(id), logger.ErrorField(err))
		} else if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove original", logger.VideoID(id), logger.ErrorField(err))
		}
	}

	if l.mirror != nil {
		prefix := path.Join("hls", strconv.FormatUint(uint64(id), 10))
		if _, err := l.mirror.DeleteDirectory(ctx, prefix); err != nil {
			logger.Warn("Failed to remove mirrored objects", logger.VideoID(id), logger.ErrorField(err))
		}
	}

	logger.Info("Video deleted", logger.VideoID(id))
	return nil
}

// HandleJob is the worker pool handler.
func (l *Library) HandleJob(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindHLS:
		_, err := l.orch.Convert(ctx, job.VideoID, job.SourcePath, pipeline.Options{
			MakeTrailer:   job.MakeTrailer,
			MakeThumbnail: job.MakeThumbnail,
		})
		return err
	case queue.KindThumbnail:
		_, err := l.orch.RegenerateThumbnail(ctx, job.VideoID)
		return err
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}
