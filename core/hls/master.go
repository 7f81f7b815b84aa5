package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const MasterFilename = "master.m3u8"

// Bandwidth converts a bitrate token into bits per second ("800k" -> 800000).
func Bandwidth(bitrate string) (int, error) {
	kbps, err := NormalizeBitrate(bitrate)
	if err != nil {
		return 0, err
	}
	return kbps * 1000, nil
}

// WriteMasterPlaylist writes master.m3u8 into outDir listing the outputs in
// the given order and returns its path.
func WriteMasterPlaylist(outDir string, outputs []RenditionOutput) (string, error) {
	var builder strings.Builder
	builder.WriteString("#EXTM3U\n")

	for _, out := range outputs {
		bandwidth, err := Bandwidth(out.Bitrate)
		if err != nil {
			return "", fmt.Errorf("rendition %s: %w", out.Name, err)
		}
		rel, err := filepath.Rel(outDir, out.PlaylistPath)
		if err != nil {
			return "", fmt.Errorf("rendition %s: %w", out.Name, err)
		}
		builder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", bandwidth, out.Resolution))
		builder.WriteString(filepath.ToSlash(rel))
		builder.WriteString("\n")
	}

	masterPath := filepath.Join(outDir, MasterFilename)
	if err := os.WriteFile(masterPath, []byte(builder.String()), 0644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return masterPath, nil
}
