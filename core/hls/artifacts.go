package hls

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"videoflix/core/utils"
	"videoflix/logger"
)

const (
	TrailerFilename   = "trailer.mp4"
	ThumbnailFilename = "thumbnail.jpg"
)

// GenerateTrailer cuts a short baseline H.264/AAC clip out of the source.
func (b *Builder) GenerateTrailer(ctx context.Context, source, outDir string) (string, error) {
	out := filepath.Join(outDir, TrailerFilename)
	args := []string{
		"-y",
		"-ss", strconv.Itoa(b.settings.TrailerStart),
		"-i", source,
		"-t", strconv.Itoa(b.settings.TrailerDuration),
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		out,
	}
	if err := b.enc.Run(ctx, args...); err != nil {
		return "", fmt.Errorf("trailer: %w", err)
	}
	return out, nil
}

// ThumbnailResult always carries a usable Path. FallbackUsed is set when the
// frame extraction failed and Err holds the reason.
type ThumbnailResult struct {
	Path         string
	FallbackUsed bool
	Err          error
}

// GenerateThumbnail extracts one frame. On failure the bundled default image
// is copied into place; if even that fails the default image's own path is
// returned.
func (b *Builder) GenerateThumbnail(ctx context.Context, source, outDir string) ThumbnailResult {
	out := filepath.Join(outDir, ThumbnailFilename)
	args := []string{
		"-y",
		"-ss", strconv.Itoa(b.settings.ThumbnailAt),
		"-i", source,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}

	encErr := b.enc.Run(ctx, args...)
	if encErr == nil {
		return ThumbnailResult{Path: out}
	}

	logger.Warn("Thumbnail extraction failed, using default image",
		logger.String("source", source),
		logger.ErrorField(encErr))

	if copyErr := utils.CopyFile(b.settings.DefaultThumbnail, out); copyErr != nil {
		logger.Warn("Copying default thumbnail failed",
			logger.String("default", b.settings.DefaultThumbnail),
			logger.ErrorField(copyErr))
		return ThumbnailResult{
			Path:         b.settings.DefaultThumbnail,
			FallbackUsed: true,
			Err:          errors.Join(encErr, copyErr),
		}
	}

	return ThumbnailResult{Path: out, FallbackUsed: true, Err: encErr}
}
