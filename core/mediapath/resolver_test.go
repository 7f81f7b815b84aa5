package mediapath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hls", "7", "720p"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hls", "7", "720p", "segment_000.ts"), []byte("ts"), 0644))
	return root
}

func TestResolveInsideRoot(t *testing.T) {
	root := newRoot(t)
	canonicalRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	p, err := Resolve(root, "hls", "7", "720p", "segment_000.ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(canonicalRoot, "hls", "7", "720p", "segment_000.ts"), p)
}

func TestResolveMissingTargetStillResolves(t *testing.T) {
	root := newRoot(t)

	p, err := Resolve(root, "hls", "99", "480p", "index.m3u8")
	require.NoError(t, err)
	assert.NoFileExists(t, p)
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := newRoot(t)

	cases := [][]string{
		{"..", "secret.ts"},
		{"hls", "7", "..", "..", "..", "etc", "passwd"},
		{"hls/../../outside"},
	}
	for _, parts := range cases {
		_, err := Resolve(root, parts...)
		assert.ErrorIs(t, err, ErrPathEscape, "%v", parts)
	}
}

func TestResolveAbsolutePartStaysUnderRoot(t *testing.T) {
	root := newRoot(t)

	p, err := Resolve(root, "/etc/passwd")
	require.NoError(t, err)
	canonicalRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, filepath.Join(canonicalRoot, "etc", "passwd"), p)
}

func TestResolveRejectsSymlinkOutOfRoot(t *testing.T) {
	root := newRoot(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.ts"), []byte("secret"), 0644))
	if err := os.Symlink(outside, filepath.Join(root, "hls", "7", "evil")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := Resolve(root, "hls", "7", "evil", "secret.ts")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolveRejectsSiblingWithSharedPrefix(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "media")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "media-private"), 0755))

	_, err := Resolve(root, "..", "media-private", "x.ts")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestValidateSegmentName(t *testing.T) {
	valid := []string{"segment_000.ts", "index.m3u8", "a.b.ts"}
	for _, name := range valid {
		got, err := ValidateSegmentName(name)
		assert.NoError(t, err, name)
		assert.Equal(t, name, got)
	}

	invalid := []string{"", ".", "..", "../secret.ts", "a/b.ts", `a\b.ts`, "/etc/passwd", "seg..ts", "x\x00.ts"}
	for _, name := range invalid {
		_, err := ValidateSegmentName(name)
		assert.ErrorIs(t, err, ErrInvalidSegmentName, "%q", name)
	}
}

func TestRelToRoot(t *testing.T) {
	root := newRoot(t)

	rel, err := RelToRoot(root, filepath.Join(root, "hls", "7", "720p", "segment_000.ts"))
	require.NoError(t, err)
	assert.Equal(t, "hls/7/720p/segment_000.ts", rel)

	outside := filepath.Join(t.TempDir(), "x.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	_, err = RelToRoot(root, outside)
	assert.ErrorIs(t, err, ErrPathEscape)

	_, err = RelToRoot(root, filepath.Join(root, "missing.jpg"))
	assert.Error(t, err)
}
