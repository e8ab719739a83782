package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SelectFiles walks every directory in order and returns all regular files whose names do not end
// with one of the ignored extensions. Matching is a case-insensitive suffix match.
// Symlinked directories are followed, including a symlinked root; a link back to one of its own
// ancestors is reported as an I/O failure. Files reachable from more than one root are returned once per root.
func SelectFiles(directories []string, ignoredExtensions []string) ([]string, error) {
	s := &selector{
		ancestors: make(map[string]bool),
	}
	for _, ext := range ignoredExtensions {
		if ext == "" {
			continue
		}
		s.ignores = append(s.ignores, strings.ToLower(ext))
	}

	for _, dir := range directories {
		if err := s.walk(dir); err != nil {
			return nil, fmt.Errorf("%w: failed to walk %s: %w", ErrIO, dir, err)
		}
	}

	if len(s.files) == 0 {
		return nil, ErrNoFilesFound
	}

	return s.files, nil
}

type selector struct {
	ignores []string
	files   []string

	// ancestors holds the resolved directories currently being walked
	ancestors map[string]bool
}

// walk resolves path and walks the resolved tree, reporting files under path as given
func (s *selector) walk(path string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}
	if s.ancestors[resolved] {
		return fmt.Errorf("symlink cycle at %s", path)
	}
	s.ancestors[resolved] = true
	defer delete(s.ancestors, resolved)

	return filepath.WalkDir(resolved, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(resolved, current)
		if err != nil {
			return err
		}
		logical := filepath.Join(path, rel)

		switch {
		case d.IsDir():
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(current)
			if errors.Is(err, fs.ErrNotExist) {
				// dangling link
				return nil
			}
			if err != nil {
				return err
			}
			if info.IsDir() {
				return s.walk(logical)
			}
			if !info.Mode().IsRegular() {
				return nil
			}
		case !d.Type().IsRegular():
			return nil
		}

		if !isIgnored(logical, s.ignores) {
			s.files = append(s.files, logical)
		}
		return nil
	})
}

// isIgnored expects ignores to already be lower case
func isIgnored(path string, ignores []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range ignores {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
