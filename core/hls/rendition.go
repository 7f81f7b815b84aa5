package hls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"videoflix/logger"
)

const (
	PlaylistFilename = "index.m3u8"
	SegmentPattern   = "segment_%03d.ts"
	audioBitrate     = "128k"
)

var (
	tierNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	bitratePattern  = regexp.MustCompile(`^([0-9]+)([kKmM])$`)
)

// Encoder is the subset of encoder.Invoker the builder needs.
type Encoder interface {
	Run(ctx context.Context, args ...string) error
}

// Settings are the encoder knobs that are not per tier.
type Settings struct {
	SegmentTime      int // seconds per HLS segment
	TrailerStart     int // seconds into the source
	TrailerDuration  int // seconds
	ThumbnailAt      int // seconds into the source
	DefaultThumbnail string
}

// RenditionSpec describes one quality tier. Bitrate is always normalized to
// a kilobit token such as "800k".
type RenditionSpec struct {
	Name        string
	Width       int
	Height      int
	Bitrate     string
	BitrateKbps int
}

// Resolution returns the WIDTHxHEIGHT form used in the master playlist.
func (r RenditionSpec) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// RenditionOutput is what one tier produced during a single pipeline run.
type RenditionOutput struct {
	Name         string
	PlaylistPath string
	Resolution   string
	Bitrate      string
}

// ParseRenditions parses "name:WxH:bitrate" entries separated by commas.
// Order is preserved; it decides the master playlist order.
func ParseRenditions(table string) ([]RenditionSpec, error) {
	var specs []RenditionSpec
	seen := make(map[string]bool)

	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("rendition %q: want name:WxH:bitrate", entry)
		}

		name := strings.TrimSpace(parts[0])
		if !tierNamePattern.MatchString(name) {
			return nil, fmt.Errorf("rendition %q: invalid tier name", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("rendition %q: duplicate tier name", entry)
		}
		seen[name] = true

		width, height, err := parseDimensions(parts[1])
		if err != nil {
			return nil, fmt.Errorf("rendition %q: %w", entry, err)
		}

		kbps, err := NormalizeBitrate(parts[2])
		if err != nil {
			return nil, fmt.Errorf("rendition %q: %w", entry, err)
		}

		specs = append(specs, RenditionSpec{
			Name:        name,
			Width:       width,
			Height:      height,
			Bitrate:     fmt.Sprintf("%dk", kbps),
			BitrateKbps: kbps,
		})
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no renditions configured")
	}
	return specs, nil
}

func parseDimensions(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid dimensions %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height %q", h)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("dimensions must be positive, got %dx%d", width, height)
	}
	if width%2 != 0 || height%2 != 0 {
		return 0, 0, fmt.Errorf("dimensions must be even, got %dx%d", width, height)
	}
	return width, height, nil
}

// NormalizeBitrate converts "800k" or "2M" into kilobits per second.
func NormalizeBitrate(token string) (int, error) {
	m := bitratePattern.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return 0, fmt.Errorf("invalid bitrate %q: want <n>k or <n>M", token)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bitrate %q", token)
	}
	if strings.EqualFold(m[2], "m") {
		n *= 1000
	}
	return n, nil
}

// Builder drives the encoder for renditions and auxiliary artifacts.
type Builder struct {
	enc      Encoder
	settings Settings
}

// NewBuilder creates a Builder.
func NewBuilder(enc Encoder, settings Settings) *Builder {
	if settings.SegmentTime <= 0 {
		settings.SegmentTime = 4
	}
	return &Builder{enc: enc, settings: settings}
}

// scaleFilter fits the source inside WxH keeping its aspect ratio and pads
// odd dimensions up to the next even value.
func scaleFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=ceil(iw/2)*2:ceil(ih/2)*2", width, height)
}

func (b *Builder) renditionArgs(source, tierDir string, spec RenditionSpec) []string {
	return []string{
		"-y",
		"-i", source,
		"-vf", scaleFilter(spec.Width, spec.Height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "main",
		"-b:v", spec.Bitrate,
		"-maxrate", spec.Bitrate,
		"-bufsize", fmt.Sprintf("%dk", spec.BitrateKbps*2),
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(b.settings.SegmentTime),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(tierDir, SegmentPattern),
		filepath.Join(tierDir, PlaylistFilename),
	}
}

// BuildRenditions encodes every tier in order. The first failure aborts the
// build; no partial rendition set is returned.
func (b *Builder) BuildRenditions(ctx context.Context, source, outDir string, specs []RenditionSpec) ([]RenditionOutput, error) {
	outputs := make([]RenditionOutput, 0, len(specs))

	for _, spec := range specs {
		tierDir := filepath.Join(outDir, spec.Name)
		if err := os.MkdirAll(tierDir, 0755); err != nil {
			return nil, fmt.Errorf("create rendition dir %s: %w", spec.Name, err)
		}

		logger.Info("Encoding rendition",
			logger.String("tier", spec.Name),
			logger.String("resolution", spec.Resolution()),
			logger.String("bitrate", spec.Bitrate))

		if err := b.enc.Run(ctx, b.renditionArgs(source, tierDir, spec)...); err != nil {
			return nil, fmt.Errorf("rendition %s: %w", spec.Name, err)
		}

		outputs = append(outputs, RenditionOutput{
			Name:         spec.Name,
			PlaylistPath: filepath.Join(tierDir, PlaylistFilename),
			Resolution:   spec.Resolution(),
			Bitrate:      spec.Bitrate,
		})
	}

	return outputs, nil
}
