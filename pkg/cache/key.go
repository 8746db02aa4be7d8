package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key represents a composed cache key: prefix:[namespace:]key.
type Key struct {
	// Prefix is the process-wide namespacing root (from Config.KeyPrefix).
	Prefix string

	// Namespace is an optional logical grouping (e.g., "songs", "stats").
	Namespace string

	// Name is the caller-supplied logical key.
	Name string
}

// String generates the deterministic composed key string.
// Format: prefix:namespace:name (namespace omitted when empty).
//
// Example:
//
//	chordbook:songs:list:recent
func (k Key) String() string {
	parts := []string{k.Prefix}

	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		parts = append(parts, ns)
	}

	parts = append(parts, k.Name)

	return strings.Join(parts, ":")
}

// ArgsKey builds a deterministic logical key from a base name and a set of
// named arguments. Argument names are sorted so that two call sites passing
// the same arguments in different order compose the same key.
//
// Example:
//
//	ArgsKey("song-list", map[string]string{"page": "1", "genre": "folk"})
//	=> "song-list:genre=folk:page=1"
func ArgsKey(base string, args map[string]string) string {
	if len(args) == 0 {
		return base
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, base)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, args[name]))
	}

	return strings.Join(parts, ":")
}
