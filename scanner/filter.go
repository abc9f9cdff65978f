package scanner

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// RegexPrefix marks a pattern as a regular expression.
const RegexPrefix = "re:"

// PathFilter decides which paths found under directory roots are kept.
// Patterns are globs matched against the base name, or against the path
// relative to the walked root when they contain a slash. A pattern written
// as re:<expr>, or one that is not a valid glob, is a regular expression
// matched against the slash-separated path relative to the root.
// Explicit file targets bypass the filter.
type PathFilter struct {
	include []matcher
	exclude []matcher
}

type matcher struct {
	glob string
	re   *regexp.Regexp
}

func (m matcher) match(base, rel string) bool {
	if m.re != nil {
		return m.re.MatchString(rel)
	}
	name := base
	if strings.Contains(m.glob, "/") {
		name = rel
	}
	matched, _ := filepath.Match(m.glob, name)
	return matched
}

// NewPathFilter compiles the patterns. A pattern that is neither a valid glob
// nor a valid regular expression is an error.
func NewPathFilter(includePatterns, excludePatterns []string) (*PathFilter, error) {
	include, err := compilePatterns(includePatterns)
	if err != nil {
		return nil, err
	}
	exclude, err := compilePatterns(excludePatterns)
	if err != nil {
		return nil, err
	}
	return &PathFilter{include: include, exclude: exclude}, nil
}

// Excluded reports whether path, found under root, matches an exclude
// pattern. Directories are pruned with this check so include patterns never
// hide whole subtrees.
func (f *PathFilter) Excluded(root, path string) bool {
	if f == nil || len(f.exclude) == 0 {
		return false
	}
	return matchAny(f.exclude, root, path)
}

// Keep reports whether a file path found under root passes both include and
// exclude patterns.
func (f *PathFilter) Keep(root, path string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 && !matchAny(f.include, root, path) {
		return false
	}
	return !f.Excluded(root, path)
}

func matchAny(matchers []matcher, root, path string) bool {
	base := filepath.Base(path)
	rel := relativePath(root, path)
	for _, m := range matchers {
		if m.match(base, rel) {
			return true
		}
	}
	return false
}

func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func compilePatterns(patterns []string) ([]matcher, error) {
	var out []matcher
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(pattern, RegexPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %v", pattern, err)
			}
			out = append(out, matcher{re: re})
			continue
		}
		if _, err := filepath.Match(pattern, ""); err == nil {
			out = append(out, matcher{glob: pattern})
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %v", pattern, err)
		}
		out = append(out, matcher{re: re})
	}
	return out, nil
}
