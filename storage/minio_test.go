package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentTypeFor("hls/7/master.m3u8"))
	assert.Equal(t, "video/MP2T", ContentTypeFor("hls/7/480p/segment_000.TS"))
	assert.Equal(t, "video/mp4", ContentTypeFor("hls/7/trailer.mp4"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("hls/7/thumbnail.jpg"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("README"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}

func TestCollectFilesBuildsSlashKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "480p"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master.m3u8"), []byte("#EXTM3U\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "480p", "index.m3u8"), []byte("#EXTM3U\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "480p", "segment_000.ts"), []byte("ts"), 0644))

	files, err := collectFiles(dir, "/hls/7/")
	require.NoError(t, err)

	var keys []string
	for _, f := range files {
		keys = append(keys, f.key)
		assert.FileExists(t, f.path)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"hls/7/480p/index.m3u8", "hls/7/480p/segment_000.ts", "hls/7/master.m3u8"}, keys)
}
