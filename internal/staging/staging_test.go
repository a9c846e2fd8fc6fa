package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	cases := []struct {
		position int
		link     string
		expected string
	}{
		{1, "https://cdn.example.com/papers/article.pdf", "file_1.pdf"},
		{2, "https://cdn.example.com/papers/article.PDF?download=1", "file_2.PDF"},
		{3, "https://cdn.example.com/get?id=4&format=docx", "file_3.docx"},
		{4, "https://cdn.example.com/zipped/archive.backup-2024", "file_4.zip"},
		{5, "https://cdn.example.com/download/1234", "file_5.bin"},
		{6, "https://cdn.example.com/", "file_6.bin"},
		{7, "https://cdn.example.com/image.jpeg", "file_7.jpeg"},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, FileName(c.position, c.link), c.link)
	}
}

func TestAreaCleanup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "staging")
	area, err := NewArea(root)
	require.NoError(t, err)

	dir, err := area.RunDir("run-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file_1.pdf"), []byte("data"), 0600))

	other, err := area.RunDir("run-2")
	require.NoError(t, err)

	require.NoError(t, area.Cleanup("run-1"))

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	require.NoError(t, err)

	// the root is recreated even if something removed it
	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, area.Cleanup("run-2"))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAreaRunDirStaysInsideRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "staging")
	area, err := NewArea(root)
	require.NoError(t, err)

	dir, err := area.RunDir("../../escape")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "escape"), dir)
}
