package extractor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func collect(t *testing.T, s *Scanner, dir string) []string {
	t.Helper()
	var out []string
	for p := range s.Files(context.Background(), dir) {
		rel, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestListSubjectFolders(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "sub-02/a.dcm", "sub-01/b.dcm", ".hidden/c.dcm", "loose.dcm")

	folders, err := ListSubjectFolders(root)
	require.NoError(t, err)

	require.Len(t, folders, 2)
	assert.Equal(t, "sub-01", folders[0].SubjectKey)
	assert.Equal(t, filepath.Join(root, "sub-01"), folders[0].Path)
	assert.Equal(t, "sub-02", folders[1].SubjectKey)

	_, err = ListSubjectFolders(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestScanner_ExtensionModes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "s/a.dcm", "s/b.DCM", "s/sub/c", "s/d.txt", "s/sub/deep/e.dcm")
	dir := filepath.Join(root, "s")

	tests := []struct {
		mode config.ExtensionMode
		want []string
	}{
		{config.ExtensionAll, []string{"a.dcm", "b.DCM", "d.txt", "sub/c", "sub/deep/e.dcm"}},
		{config.ExtensionAllDCM, []string{"a.dcm", "b.DCM", "sub/deep/e.dcm"}},
		{config.ExtensionDCM, []string{"a.dcm", "sub/deep/e.dcm"}},
		{config.ExtensionNone, []string{"sub/c"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			s := NewScanner(tt.mode, hclog.NewNullLogger())
			assert.Equal(t, tt.want, collect(t, s, dir))
			assert.Equal(t, int64(len(tt.want)), s.Yielded())
		})
	}
}

func TestScanner_MissingDirectoryYieldsNothing(t *testing.T) {
	s := NewScanner(config.ExtensionAll, hclog.NewNullLogger())
	assert.Empty(t, collect(t, s, filepath.Join(t.TempDir(), "gone")))
	assert.Equal(t, int64(1), s.Skipped())
}

func TestScanner_SkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeTree(t, root, "s/ok.dcm", "s/locked/hidden.dcm")
	locked := filepath.Join(root, "s", "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	s := NewScanner(config.ExtensionAll, hclog.NewNullLogger())
	assert.Equal(t, []string{"ok.dcm"}, collect(t, s, filepath.Join(root, "s")))
	assert.Equal(t, int64(1), s.Skipped())
}

func TestScanner_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "s/a.dcm", "s/b.dcm", "s/c.dcm")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScanner(config.ExtensionAll, hclog.NewNullLogger())

	var seen int
	for range s.Files(ctx, filepath.Join(root, "s")) {
		seen++
		cancel()
	}
	assert.Equal(t, 1, seen)
}

func TestScanner_EarlyBreak(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "s/a.dcm", "s/b.dcm", "s/c.dcm")

	s := NewScanner(config.ExtensionAll, hclog.NewNullLogger())
	var seen int
	for range s.Files(context.Background(), filepath.Join(root, "s")) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestScanner_FollowsFileSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "staging/real.dcm", "staging/dir/inner.dcm", "s/own.dcm")
	dir := filepath.Join(root, "s")

	require.NoError(t, os.Symlink(filepath.Join(root, "staging", "real.dcm"), filepath.Join(dir, "linked.dcm")))
	require.NoError(t, os.Symlink(filepath.Join(root, "staging", "gone.dcm"), filepath.Join(dir, "dangling.dcm")))
	require.NoError(t, os.Symlink(filepath.Join(root, "staging", "dir"), filepath.Join(dir, "linkdir")))

	s := NewScanner(config.ExtensionAll, hclog.NewNullLogger())
	assert.Equal(t, []string{"linked.dcm", "own.dcm"}, collect(t, s, dir))
	assert.Equal(t, int64(1), s.Skipped(), "dangling link")
}
