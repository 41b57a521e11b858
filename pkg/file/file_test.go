package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"/tmp/a.webm", ".mp3", "/tmp/a.mp3"},
		{"/tmp/a.webm", "mp3", "/tmp/a.mp3"},
		{"/tmp/noext", ".mp3", "/tmp/noext.mp3"},
		{"", ".mp3", ""},
		{"u1_req_1.m4a", ".mp3", "u1_req_1.mp3"},
		{"/tmp/.hidden", ".mp3", "/tmp/.hidden.mp3"},
		{"/tmp/a.b.webm", ".mp3", "/tmp/a.b.mp3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceExt(tt.path, tt.ext), tt.path)
	}
}

func TestFindOlderThan(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.mp3")
	newPath := filepath.Join(dir, "new.mp3")
	require.NoError(t, os.WriteFile(oldPath, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("b"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	got, err := FindOlderThan(dir, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{oldPath}, got)

	missing, err := FindOlderThan(filepath.Join(dir, "missing"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFindByPrefixAndRemoveQuietly(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "u1_c1_100.webm")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u2_c2_100.webm"), nil, 0o644))

	got, err := FindByPrefix(dir, "u1_c1_100")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, got)

	require.NoError(t, RemoveQuietly(a))
	require.NoError(t, RemoveQuietly(a))
	assert.NoFileExists(t, a)
}
