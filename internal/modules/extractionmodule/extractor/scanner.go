package extractor

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
)

// SubjectFolder is one ingestion unit: an immediate child directory of the
// cohort root. It is processed by exactly one worker.
type SubjectFolder struct {
	SubjectKey string
	Path       string
}

// ListSubjectFolders returns the immediate child directories of root, sorted
// by name. Hidden directories and non-directories are ignored.
func ListSubjectFolders(root string) ([]SubjectFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read cohort root %s: %w", root, err)
	}

	folders := make([]SubjectFolder, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		folders = append(folders, SubjectFolder{
			SubjectKey: e.Name(),
			Path:       filepath.Join(root, e.Name()),
		})
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].SubjectKey < folders[j].SubjectKey })
	return folders, nil
}

// Scanner lazily enumerates candidate files below a subject folder
type Scanner struct {
	mode   config.ExtensionMode
	logger hclog.Logger

	yielded atomic.Int64
	skipped atomic.Int64
}

// NewScanner creates a scanner for the given extension mode
func NewScanner(mode config.ExtensionMode, logger hclog.Logger) *Scanner {
	return &Scanner{
		mode:   mode,
		logger: logger.Named("scanner"),
	}
}

// Matches reports whether a file name passes the extension filter
func (s *Scanner) Matches(name string) bool {
	ext := filepath.Ext(name)
	switch s.mode {
	case config.ExtensionAll:
		return true
	case config.ExtensionAllDCM:
		return strings.EqualFold(ext, ".dcm")
	case config.ExtensionDCM:
		return ext == ".dcm"
	case config.ExtensionNone:
		return ext == ""
	default:
		return false
	}
}

// Files yields every regular file below dir that passes the filter.
// Entries that cannot be read are skipped and counted; the walk never
// aborts on them. Symlinks to files are followed; symlinked directories are
// not descended into.
func (s *Scanner) Files(ctx context.Context, dir string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if err != nil {
				s.skipped.Add(1)
				s.logger.Debug("skipping unreadable entry", "path", path, "error", err)
				if d != nil && d.IsDir() && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !s.regularFile(path, d) {
				return nil
			}
			if !s.Matches(d.Name()) {
				return nil
			}

			s.yielded.Add(1)
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// regularFile reports whether d is a regular file or a symlink resolving to
// one. Dangling links are counted as skipped.
func (s *Scanner) regularFile(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		s.skipped.Add(1)
		s.logger.Debug("skipping broken symlink", "path", path, "error", err)
		return false
	}
	return info.Mode().IsRegular()
}

// Yielded returns how many files have been yielded
func (s *Scanner) Yielded() int64 {
	return s.yielded.Load()
}

// Skipped returns how many unreadable entries were skipped
func (s *Scanner) Skipped() int64 {
	return s.skipped.Load()
}
