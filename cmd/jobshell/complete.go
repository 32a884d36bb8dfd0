package main

import (
	"strings"

	"github.com/chzyer/readline"
	"github.com/nixpig/jobcontrol/internal/shell"
)

// completer completes the command name at the start of the line. A unique
// match is completed in full; otherwise the longest common prefix of the
// matches is inserted, and when there is nothing to insert the matches are
// offered as candidates.
type completer struct {
	names *shell.Completer
}

var _ readline.AutoCompleter = completer{}

func (c completer) Do(line []rune, pos int) ([][]rune, int) {
	head := strings.TrimLeft(string(line[:pos]), " \t")
	if strings.ContainsAny(head, " \t") {
		return nil, 0
	}

	matches, common := c.names.Complete(head)

	offset := len([]rune(head))

	switch {
	case len(matches) == 0:
		return nil, 0
	case len(matches) == 1:
		return [][]rune{[]rune(matches[0][len(head):] + " ")}, offset
	case len(common) > len(head):
		return [][]rune{[]rune(common[len(head):])}, offset
	}

	candidates := make([][]rune, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, []rune(m[len(head):]))
	}

	return candidates, offset
}
