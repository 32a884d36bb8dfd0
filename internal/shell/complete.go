package shell

import (
	"slices"
	"strings"
)

// Completer completes command names.
type Completer struct {
	names []string
}

// NewCompleter creates a Completer for the given sets of names. Duplicates
// are removed.
func NewCompleter(sets ...[]string) *Completer {
	var names []string

	for _, set := range sets {
		names = append(names, set...)
	}

	slices.Sort(names)

	return &Completer{names: slices.Compact(names)}
}

// Complete returns the sorted names starting with prefix and the longest
// prefix they all share. With no matches the common prefix is prefix itself.
func (c *Completer) Complete(prefix string) ([]string, string) {
	var matches []string

	for _, name := range c.names {
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}

	if len(matches) == 0 {
		return nil, prefix
	}

	return matches, CommonPrefix(matches...)
}

// CommonPrefix returns the longest prefix shared by all words.
func CommonPrefix(words ...string) string {
	if len(words) == 0 {
		return ""
	}

	prefix := words[0]

	for _, w := range words[1:] {
		n := 0
		for n < len(prefix) && n < len(w) && prefix[n] == w[n] {
			n++
		}

		prefix = prefix[:n]
	}

	return prefix
}
