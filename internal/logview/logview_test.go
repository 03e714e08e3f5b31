package logview

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, dir, name string, lines []string) {
	t.Helper()
	path := filepath.Join(dir, name)
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestViewer_List(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "app.log", []string{"a", "b"})
	writeLines(t, dir, "whitelist.log", []string{"c"})

	v := New(dir)
	files, err := v.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestViewer_Stats(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "app.log", []string{"a", "b", "c"})

	v := New(dir)
	stats, err := v.Stats("app.log")
	require.NoError(t, err)
	require.Equal(t, 3, stats.LineCount)
}

func TestViewer_TailPagesFromEnd(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "app.log", []string{"1", "2", "3", "4", "5"})

	v := New(dir)
	page, err := v.Tail("app.log", 2, 0, "")
	require.NoError(t, err)
	require.Equal(t, []string{"4", "5"}, page)

	page, err = v.Tail("app.log", 2, 2, "")
	require.NoError(t, err)
	require.Equal(t, []string{"2", "3"}, page)
}

func TestViewer_TailAppliesSearch(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "app.log", []string{"ban 1.2.3.4", "pass 5.6.7.8", "ban 9.9.9.9"})

	v := New(dir)
	page, err := v.Tail("app.log", 10, 0, "ban")
	require.NoError(t, err)
	require.Equal(t, []string{"ban 1.2.3.4", "ban 9.9.9.9"}, page)
}

func TestViewer_Search(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "app.log", []string{"alpha", "BETA", "gamma beta"})

	v := New(dir)
	matches, err := v.Search("app.log", "beta", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestViewer_ResolveRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)
	_, err := v.Stats("../secrets.txt")
	require.Error(t, err)
}

func TestViewer_ListMissingDirReturnsEmpty(t *testing.T) {
	v := New(filepath.Join(t.TempDir(), "missing"))
	files, err := v.List()
	require.NoError(t, err)
	require.Empty(t, files)
}
