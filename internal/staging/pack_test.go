package staging

import (
	"archive/zip"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func fakeFiles(sizes ...int64) []StagingFile {
	files := make([]StagingFile, len(sizes))
	for i, size := range sizes {
		files[i] = StagingFile{
			LocalPath: fmt.Sprintf("file_%d.bin", i+1),
			Size:      size,
		}
	}
	return files
}

func flatten(groups []Group) []StagingFile {
	var out []StagingFile
	for _, g := range groups {
		out = append(out, g.Files...)
	}
	return out
}

func TestGreedyPackerScenarios(t *testing.T) {
	cases := []struct {
		name      string
		sizes     []int64
		ceiling   int64
		expected  [][]int
		oversized []bool
	}{
		{
			name:      "everything fits in one unit",
			sizes:     []int64{4 * mb, 4 * mb, 4 * mb},
			ceiling:   12 * mb,
			expected:  [][]int{{0, 1, 2}},
			oversized: []bool{false},
		},
		{
			name:      "third file overflows",
			sizes:     []int64{4 * mb, 4 * mb, 4 * mb},
			ceiling:   10 * mb,
			expected:  [][]int{{0, 1}, {2}},
			oversized: []bool{false, false},
		},
		{
			name:      "oversized file is isolated",
			sizes:     []int64{12 * mb, 1 * mb},
			ceiling:   10 * mb,
			expected:  [][]int{{0}, {1}},
			oversized: []bool{true, false},
		},
		{
			name:      "oversized file keeps its position",
			sizes:     []int64{1 * mb, 12 * mb, 2 * mb},
			ceiling:   10 * mb,
			expected:  [][]int{{0}, {1}, {2}},
			oversized: []bool{false, true, false},
		},
		{
			name:      "exactly at the ceiling",
			sizes:     []int64{5 * mb, 5 * mb, 1},
			ceiling:   10 * mb,
			expected:  [][]int{{0, 1}, {2}},
			oversized: []bool{false, false},
		},
		{
			name:    "no files",
			sizes:   nil,
			ceiling: 10 * mb,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			files := fakeFiles(c.sizes...)
			groups := GreedyPacker(files, c.ceiling)
			require.Len(t, groups, len(c.expected))
			for i, g := range groups {
				var expected []StagingFile
				for _, idx := range c.expected[i] {
					expected = append(expected, files[idx])
				}
				require.Equal(t, expected, g.Files)
				require.Equal(t, c.oversized[i], g.Oversized)
			}
		})
	}
}

func TestGreedyPackerInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const ceiling = 10 * mb

	for round := 0; round < 200; round++ {
		sizes := make([]int64, rng.Intn(20))
		for i := range sizes {
			sizes[i] = rng.Int63n(15 * mb)
		}
		files := fakeFiles(sizes...)
		groups := GreedyPacker(files, ceiling)

		// order preserving
		if len(files) > 0 {
			require.Equal(t, files, flatten(groups))
		} else {
			require.Empty(t, groups)
		}

		for _, g := range groups {
			require.NotEmpty(t, g.Files)
			if g.Oversized {
				require.Len(t, g.Files, 1)
				require.Greater(t, g.Files[0].Size, int64(ceiling))
				continue
			}
			require.LessOrEqual(t, g.Size(), int64(ceiling))
		}
	}
}

func writeStaged(t *testing.T, dir, name string, size int) StagingFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0600))
	return StagingFile{LocalPath: path, Size: int64(size)}
}

func TestPackBuildsArchives(t *testing.T) {
	dir := t.TempDir()
	files := []StagingFile{
		writeStaged(t, dir, "file_1.pdf", 300),
		writeStaged(t, dir, "file_2.pdf", 1200),
		writeStaged(t, dir, "file_3.txt", 400),
		writeStaged(t, dir, "file_4.txt", 500),
	}

	units, err := Pack(files, 1000, dir, nil)
	require.NoError(t, err)
	require.Len(t, units, 3)

	require.True(t, units[0].Archived)
	require.Equal(t, "chunk_1.zip", units[0].Name)
	require.Equal(t, int64(300), units[0].RawSize)

	require.False(t, units[1].Archived)
	require.Equal(t, files[1].LocalPath, units[1].Path)
	require.Equal(t, "file_2.pdf", units[1].Name)

	require.True(t, units[2].Archived)
	require.Equal(t, "chunk_3.zip", units[2].Name)
	require.Equal(t, int64(900), units[2].RawSize)

	archive, err := zip.OpenReader(units[2].Path)
	require.NoError(t, err)
	defer archive.Close()
	var names []string
	for _, f := range archive.File {
		names = append(names, f.Name)
		require.Equal(t, zip.Deflate, f.Method)
	}
	require.Equal(t, []string{"file_3.txt", "file_4.txt"}, names)
}

func TestBuildSkipsEmptyGroups(t *testing.T) {
	dir := t.TempDir()
	empty := writeStaged(t, dir, "file_1.txt", 0)

	units, err := Build([]Group{{}, {Files: []StagingFile{empty}}}, dir)
	require.NoError(t, err)
	require.Empty(t, units)

	units, err = Pack(nil, 10, dir, nil)
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestBuildContinuesAfterFailedArchive(t *testing.T) {
	dir := t.TempDir()
	files := []StagingFile{
		writeStaged(t, dir, "file_1.pdf", 8),
		writeStaged(t, dir, "file_2.pdf", 8),
		writeStaged(t, dir, "file_3.pdf", 8),
	}
	require.NoError(t, os.Remove(files[1].LocalPath))

	units, err := Pack(files, 10, dir, nil)
	require.Error(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "chunk_1.zip", units[0].Name)
	require.Equal(t, "chunk_3.zip", units[1].Name)

	failed := PackErrors(err)
	require.Len(t, failed, 1)
	require.Equal(t, "chunk_2.zip", failed[0].Unit)
	require.Equal(t, files[1:2], failed[0].Files)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, statErr := os.Stat(filepath.Join(dir, "chunk_2.zip"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}
