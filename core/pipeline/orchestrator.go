// Package pipeline turns an uploaded source file into a complete HLS package
// and records the result on the video row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"videoflix/core/hls"
	"videoflix/core/mediapath"
	"videoflix/logger"
	"videoflix/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrSourceNotFound is returned before any encoding when the source file is missing.
var ErrSourceNotFound = errors.New("source video not found")

const (
	hlsDirName     = "hls"
	stagingDirName = ".staging"
)

// Options select the optional artifacts of a run.
type Options struct {
	MakeTrailer   bool
	MakeThumbnail bool
}

// DefaultOptions produces every artifact.
func DefaultOptions() Options {
	return Options{MakeTrailer: true, MakeThumbnail: true}
}

// Publisher receives a finished HLS tree, e.g. an object storage mirror.
type Publisher interface {
	UploadDirectory(ctx context.Context, localDir, prefix string) (int, error)
}

// Orchestrator runs the full conversion for one video at a time per id.
type Orchestrator struct {
	root      string
	specs     []hls.RenditionSpec
	builder   *hls.Builder
	videos    repository.VideoRepository
	locker    Locker
	publisher Publisher
}

// NewOrchestrator creates an Orchestrator. A nil locker falls back to an
// in-process KeyedMutex.
func NewOrchestrator(mediaRoot string, specs []hls.RenditionSpec, builder *hls.Builder, videos repository.VideoRepository, locker Locker) *Orchestrator {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Orchestrator{
		root:    mediaRoot,
		specs:   specs,
		builder: builder,
		videos:  videos,
		locker:  locker,
	}
}

// SetPublisher enables mirroring of finished trees.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// OutputDir is the directory holding the artifacts of videoID.
func (o *Orchestrator) OutputDir(videoID uint) string {
	return filepath.Join(o.root, hlsDirName, strconv.FormatUint(uint64(videoID), 10))
}

func (o *Orchestrator) stagingRoot() string {
	return filepath.Join(o.root, hlsDirName, stagingDirName)
}

// Convert encodes source into every configured rendition, writes the master
// playlist and optional trailer and thumbnail, then stores the artifact
// references on the video. It returns the absolute master playlist path.
//
// All work happens in a staging directory that replaces the video's output
// directory only after every required step succeeded, so a failed run leaves
// both the previous files and the record untouched.
func (o *Orchestrator) Convert(ctx context.Context, videoID uint, source string, opts Options) (string, error) {
	info, err := os.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}

	unlock, err := o.locker.Lock(ctx, videoID)
	if err != nil {
		return "", fmt.Errorf("lock video %d: %w", videoID, err)
	}
	defer unlock()

	if _, err := o.videos.GetByID(ctx, videoID); err != nil {
		return "", err
	}

	start := time.Now()
	logger.Info("Starting HLS conversion",
		logger.VideoID(videoID),
		logger.String("source", source),
		logger.Bool("trailer", opts.MakeTrailer),
		logger.Bool("thumbnail", opts.MakeThumbnail))

	staging := filepath.Join(o.stagingRoot(), fmt.Sprintf("%d-%s", videoID, uuid.NewString()))
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	swapped := false
	defer func() {
		if !swapped {
			os.RemoveAll(staging)
		}
	}()

	var (
		outputs []hls.RenditionOutput
		trailer string
		thumb   hls.ThumbnailResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		outputs, err = o.builder.BuildRenditions(gctx, source, staging, o.specs)
		return err
	})
	if opts.MakeTrailer {
		g.Go(func() error {
			var err error
			trailer, err = o.builder.GenerateTrailer(gctx, source, staging)
			return err
		})
	}
	if opts.MakeThumbnail {
		g.Go(func() error {
			thumb = o.builder.GenerateThumbnail(gctx, source, staging)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("HLS conversion failed",
			logger.VideoID(videoID),
			logger.String("stage", "encode"),
			logger.ErrorField(err))
		return "", err
	}
	if thumb.FallbackUsed {
		logger.Warn("Thumbnail fell back to default image",
			logger.VideoID(videoID),
			logger.ErrorField(thumb.Err))
	}

	if _, err := hls.WriteMasterPlaylist(staging, outputs); err != nil {
		logger.Error("HLS conversion failed",
			logger.VideoID(videoID),
			logger.String("stage", "master"),
			logger.ErrorField(err))
		return "", err
	}

	finalDir := o.OutputDir(videoID)
	if err := os.RemoveAll(finalDir); err != nil {
		return "", fmt.Errorf("remove previous output: %w", err)
	}
	if err := os.Rename(staging, finalDir); err != nil {
		return "", fmt.Errorf("publish output: %w", err)
	}
	swapped = true

	masterPath := filepath.Join(finalDir, hls.MasterFilename)
	artifacts := repository.Artifacts{}
	if artifacts.HLSMaster, err = mediapath.RelToRoot(o.root, masterPath); err != nil {
		return "", fmt.Errorf("master playlist reference: %w", err)
	}
	if trailer != "" {
		if artifacts.Trailer, err = mediapath.RelToRoot(o.root, filepath.Join(finalDir, hls.TrailerFilename)); err != nil {
			return "", fmt.Errorf("trailer reference: %w", err)
		}
	}
	if opts.MakeThumbnail {
		artifacts.Thumbnail = o.thumbnailRef(videoID, staging, finalDir, thumb.Path)
	}

	if err := o.videos.UpdateArtifacts(ctx, videoID, artifacts); err != nil {
		logger.Error("HLS conversion failed",
			logger.VideoID(videoID),
			logger.String("stage", "record"),
			logger.ErrorField(err))
		return "", err
	}

	o.publish(ctx, videoID, finalDir)

	logger.Info("HLS conversion finished",
		logger.VideoID(videoID),
		logger.String("master", artifacts.HLSMaster),
		logger.Duration("elapsed", time.Since(start)))
	return masterPath, nil
}

// thumbnailRef maps the generated thumbnail to its post-swap location. The
// default image used as a last resort is referenced only if it lies inside
// the media root.
func (o *Orchestrator) thumbnailRef(videoID uint, staging, finalDir, generated string) string {
	if generated == "" {
		return ""
	}
	p := generated
	if filepath.Dir(generated) == staging {
		p = filepath.Join(finalDir, filepath.Base(generated))
	}
	rel, err := mediapath.RelToRoot(o.root, p)
	if err != nil {
		logger.Warn("Thumbnail is outside the media root, leaving it unset",
			logger.VideoID(videoID),
			logger.String("path", generated),
			logger.ErrorField(err))
		return ""
	}
	return rel
}

// RegenerateThumbnail extracts a new poster frame from the stored original
// and updates only the thumbnail reference.
func (o *Orchestrator) RegenerateThumbnail(ctx context.Context, videoID uint) (string, error) {
	unlock, err := o.locker.Lock(ctx, videoID)
	if err != nil {
		return "", fmt.Errorf("lock video %d: %w", videoID, err)
	}
	defer unlock()

	video, err := o.videos.GetByID(ctx, videoID)
	if err != nil {
		return "", err
	}
	if video.VideoFile == "" {
		return "", fmt.Errorf("%w: video %d has no original file", ErrSourceNotFound, videoID)
	}
	source, err := mediapath.Resolve(o.root, filepath.FromSlash(video.VideoFile))
	if err != nil {
		return "", fmt.Errorf("resolve original: %w", err)
	}
	if info, err := os.Stat(source); err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, video.VideoFile)
	}

	outDir := o.OutputDir(videoID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	res := o.builder.GenerateThumbnail(ctx, source, outDir)
	if res.FallbackUsed {
		logger.Warn("Thumbnail fell back to default image",
			logger.VideoID(videoID),
			logger.ErrorField(res.Err))
	}
	ref := o.thumbnailRef(videoID, outDir, outDir, res.Path)
	if err := o.videos.UpdateThumbnail(ctx, videoID, ref); err != nil {
		return "", err
	}

	logger.Info("Thumbnail regenerated", logger.VideoID(videoID), logger.String("thumbnail", ref))
	return res.Path, nil
}

// CleanStaging removes staging directories left behind by runs that were
// killed mid-way. Call it before workers start.
func (o *Orchestrator) CleanStaging() error {
	if err := os.RemoveAll(o.stagingRoot()); err != nil {
		return fmt.Errorf("clean staging: %w", err)
	}
	return nil
}

// RemoveOutput deletes all artifacts of videoID.
func (o *Orchestrator) RemoveOutput(ctx context.Context, videoID uint) error {
	unlock, err := o.locker.Lock(ctx, videoID)
	if err != nil {
		return fmt.Errorf("lock video %d: %w", videoID, err)
	}
	defer unlock()

	if err := os.RemoveAll(o.OutputDir(videoID)); err != nil {
		return fmt.Errorf("remove output of video %d: %w", videoID, err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, videoID uint, dir string) {
	if o.publisher == nil {
		return
	}
	prefix := path.Join(hlsDirName, strconv.FormatUint(uint64(videoID), 10))
	n, err := o.publisher.UploadDirectory(ctx, dir, prefix)
	if err != nil {
		logger.Warn("Mirroring HLS output failed",
			logger.VideoID(videoID),
			logger.ErrorField(err))
		return
	}
	logger.Debug("Mirrored HLS output", logger.VideoID(videoID), logger.Int("objects", n))
}
