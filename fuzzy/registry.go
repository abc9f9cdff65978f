package fuzzy

import (
	"io"
	"sort"
	"strings"
)

// Hasher is a similarity-preserving digest.
type Hasher interface {
	Name() string
	HashReader(r io.Reader) (string, error)
	// Distance scores two digests; 0 means identical input.
	Distance(a, b string) (int, error)
}

var registry = map[string]Hasher{}

// Register adds a fuzzy hasher to the registry.
func Register(hasher Hasher) {
	if hasher == nil {
		return
	}
	registry[strings.ToLower(hasher.Name())] = hasher
}

// Lookup returns a registered hasher by name.
func Lookup(name string) (Hasher, bool) {
	hasher, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return hasher, ok
}

// Available returns the sorted names of registered hashers.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
