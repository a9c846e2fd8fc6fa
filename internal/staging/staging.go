package staging

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"ojsbot-backend/internal/components/assert"
)

var ErrCleanupFailed = errors.New("cleanup failed")

// StagingFile is a fetched file waiting to be packaged.
type StagingFile struct {
	LocalPath string
	Size      int64
	SourceUrl string
}

// Area is the root directory under which every run gets its own staging tree.
type Area struct {
	root string
}

func NewArea(root string) (Area, error) {
	assert.NotEmptyStr(root)
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return Area{}, err
	}
	return Area{root: root}, nil
}

func (a Area) Root() string {
	return a.root
}

// RunDir returns the staging directory of a run, it is created if it does
// not exist yet.
func (a Area) RunDir(runId string) (string, error) {
	assert.NotEmptyStr(runId)
	dir := filepath.Join(a.root, filepath.Base(runId))
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", err
	}
	return dir, nil
}

// Cleanup removes the staging tree of a run and makes sure an empty staging
// root exists afterwards.
func (a Area) Cleanup(runId string) error {
	dir := filepath.Join(a.root, filepath.Base(runId))
	err := os.RemoveAll(dir)
	if err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrCleanupFailed, dir, err)
	}
	err = os.MkdirAll(a.root, 0755)
	if err != nil {
		return fmt.Errorf("%w: recreate %s: %w", ErrCleanupFailed, a.root, err)
	}
	return nil
}

var commonExtensions = []string{"pdf", "docx", "doc", "jpeg", "jpg", "png", "zip", "rar", "txt"}

// FileExtension guesses the extension of the file behind a link. The
// extension in the url path wins when it is short enough to be real, then
// well known keywords anywhere in the link, then ".bin".
func FileExtension(link string) string {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err == nil {
		base := path.Base(parsed.Path)
		if i := strings.LastIndex(base, "."); i >= 0 {
			ext := base[i:]
			if len(ext) > 1 && len(ext) <= 6 {
				return ext
			}
		}
	}

	lower := strings.ToLower(link)
	for _, ext := range commonExtensions {
		if strings.Contains(lower, ext) {
			return "." + ext
		}
	}
	return ".bin"
}

// FileName is the staged name of the link at the given 1-based position.
func FileName(position int, link string) string {
	return fmt.Sprintf("file_%d%s", position, FileExtension(link))
}
