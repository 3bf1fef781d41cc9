package watch

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFileName holds extra gitignore-style patterns inside the inbox.
const IgnoreFileName = ".stoneidignore"

// IgnoreFilter matches inbox paths that must not be processed.
type IgnoreFilter struct {
	root     string
	patterns []gitignore.Pattern
}

// NewIgnoreFilter builds the filter for root. Hidden files, editor and
// partial-upload artifacts are always ignored, as is each name in extra.
func NewIgnoreFilter(root string, extra ...string) (*IgnoreFilter, error) {
	f := &IgnoreFilter{root: root}

	defaultPatterns := []string{
		".*",
		"*~",
		"*.tmp",
		"*.swp",
		"*.part",
	}

	for _, p := range append(defaultPatterns, extra...) {
		f.patterns = append(f.patterns, gitignore.ParsePattern(p, nil))
	}

	file, err := os.Open(filepath.Join(root, IgnoreFileName))
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f.patterns = append(f.patterns, gitignore.ParsePattern(line, nil))
	}
	return f, scanner.Err()
}

// ShouldIgnore reports whether path is excluded. Later patterns win, so a
// negated pattern ("!keep.csv") re-includes a file.
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	relPath, err := filepath.Rel(f.root, path)
	if err != nil || relPath == "." {
		return false
	}

	pathParts := strings.Split(relPath, string(filepath.Separator))
	ignored := false
	for _, pattern := range f.patterns {
		switch pattern.Match(pathParts, false) {
		case gitignore.Exclude:
			ignored = true
		case gitignore.Include:
			ignored = false
		}
	}
	return ignored
}
