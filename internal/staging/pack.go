package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ojsbot-backend/internal/components/assert"

	"github.com/klauspost/compress/zip"
)

// Group is a planned unit, Oversized groups hold a single file that exceeds
// the ceiling on its own and are uploaded without archiving.
type Group struct {
	Files     []StagingFile
	Oversized bool
}

func (g Group) Size() int64 {
	var total int64
	for _, f := range g.Files {
		total += f.Size
	}
	return total
}

// Packer plans how staged files are grouped into units under a size ceiling.
// Implementations must keep the input order.
type Packer func(files []StagingFile, ceiling int64) []Group

// GreedyPacker fills each group in order until the next file would push it
// over the ceiling, a file larger than the ceiling gets a group of its own.
func GreedyPacker(files []StagingFile, ceiling int64) []Group {
	assert.Positive("ceiling", ceiling)

	var groups []Group
	var current []StagingFile
	var currentSize int64

	seal := func() {
		if len(current) > 0 {
			groups = append(groups, Group{Files: current})
		}
		current = nil
		currentSize = 0
	}

	for _, f := range files {
		if f.Size > ceiling {
			seal()
			groups = append(groups, Group{Files: []StagingFile{f}, Oversized: true})
			continue
		}
		if currentSize+f.Size > ceiling {
			seal()
		}
		current = append(current, f)
		currentSize += f.Size
	}
	seal()

	return groups
}

// PackagedUnit is one upload, either an archive of several staged files or a
// single oversized file.
type PackagedUnit struct {
	Path     string
	Name     string
	Archived bool
	// Files are the staged files the unit carries, in input order.
	Files []StagingFile
	// RawSize is the total size of Files before compression.
	RawSize int64
}

// PackError is a group whose archive could not be written, its files are
// not part of any unit.
type PackError struct {
	Unit  string
	Files []StagingFile
	Err   error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("archive %s: %s", e.Unit, e.Err)
}

func (e *PackError) Unwrap() error {
	return e.Err
}

// PackErrors lists the *PackError values joined in an error returned by
// Build or Pack.
func PackErrors(err error) []*PackError {
	if err == nil {
		return nil
	}
	var out []*PackError
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		var single *PackError
		if errors.As(err, &single) {
			out = append(out, single)
		}
		return out
	}
	for _, e := range joined.Unwrap() {
		out = append(out, PackErrors(e)...)
	}
	return out
}

// Build turns planned groups into units, writing archives into dir. Groups
// without content are dropped. A group whose archive fails is skipped and
// reported as a *PackError, the remaining groups are still built.
func Build(groups []Group, dir string) ([]PackagedUnit, error) {
	var units []PackagedUnit
	var errs []error
	position := 0
	for _, g := range groups {
		if len(g.Files) == 0 || g.Size() == 0 {
			continue
		}
		position++

		if g.Oversized {
			f := g.Files[0]
			units = append(units, PackagedUnit{
				Path:    f.LocalPath,
				Name:    filepath.Base(f.LocalPath),
				Files:   g.Files,
				RawSize: f.Size,
			})
			continue
		}

		name := fmt.Sprintf("chunk_%d.zip", position)
		path := filepath.Join(dir, name)
		err := writeArchive(path, g.Files)
		if err != nil {
			errs = append(errs, &PackError{Unit: name, Files: g.Files, Err: err})
			continue
		}
		units = append(units, PackagedUnit{
			Path:     path,
			Name:     name,
			Archived: true,
			Files:    g.Files,
			RawSize:  g.Size(),
		})
	}
	return units, errors.Join(errs...)
}

// Pack plans the files with packer and builds the resulting units into dir.
func Pack(files []StagingFile, ceiling int64, dir string, packer Packer) ([]PackagedUnit, error) {
	if packer == nil {
		packer = GreedyPacker
	}
	return Build(packer(files, ceiling), dir)
}

func writeArchive(path string, files []StagingFile) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	err = fillArchive(out, files)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

func fillArchive(out io.Writer, files []StagingFile) error {
	w := zip.NewWriter(out)
	for _, f := range files {
		err := addToArchive(w, f)
		if err != nil {
			return err
		}
	}
	return w.Close()
}

func addToArchive(w *zip.Writer, f StagingFile) error {
	in, err := os.Open(f.LocalPath)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(f.LocalPath)
	header.Method = zip.Deflate

	entry, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, in)
	return err
}
