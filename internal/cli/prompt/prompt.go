// Package prompt resolves ambiguous command arguments interactively, with a
// no-prompt mode for scripts.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Sentinel errors for prompt operations.
var (
	ErrSelectionCancelled = errors.New("selection cancelled")
	ErrNoPromptMode       = errors.New("several matches and interactive prompts are disabled (--no-prompt / -y)")
	ErrNoItems            = errors.New("nothing to choose from")
	ErrNoMatches          = errors.New("nothing matches the filter")
)

// Selector picks one of Items. Label renders an item for display and for
// filtering.
type Selector[E any] struct {
	Items    []E
	Label    func(E) string
	Prompt   string
	Reader   io.Reader
	Writer   io.Writer
	NoPrompt bool
}

// Run executes the selection. A single item is selected without asking.
// Otherwise the user may narrow the list with a filter and then picks by
// number; 0 cancels.
func (s *Selector[E]) Run() (*E, error) {
	if len(s.Items) == 0 {
		return nil, ErrNoItems
	}
	if len(s.Items) == 1 {
		return &s.Items[0], nil
	}
	if s.NoPrompt {
		return nil, ErrNoPromptMode
	}

	writer := s.Writer
	if writer == nil {
		writer = io.Discard
	}
	scanner := bufio.NewScanner(s.Reader)

	_, _ = fmt.Fprintf(writer, "%s\nFilter (or press Enter to show all): ", s.Prompt)
	if !scanner.Scan() {
		return nil, ErrSelectionCancelled
	}
	filtered := Filter(s.Items, s.Label, strings.TrimSpace(scanner.Text()))

	if len(filtered) == 0 {
		return nil, ErrNoMatches
	}
	if len(filtered) == 1 {
		_, _ = fmt.Fprintf(writer, "Auto-selected: %s\n", s.Label(filtered[0]))
		return &filtered[0], nil
	}

	for i, it := range filtered {
		_, _ = fmt.Fprintf(writer, "  %d) %s\n", i+1, s.Label(it))
	}

	_, _ = fmt.Fprintf(writer, "Select (0 to cancel): ")
	if !scanner.Scan() {
		return nil, ErrSelectionCancelled
	}

	input := strings.TrimSpace(scanner.Text())
	num, err := strconv.Atoi(input)
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %s", input)
	}
	if num == 0 {
		return nil, ErrSelectionCancelled
	}
	if num < 1 || num > len(filtered) {
		return nil, fmt.Errorf("selection out of range: %d", num)
	}
	return &filtered[num-1], nil
}

// Filter keeps the items whose label contains query, case-insensitively. When
// nothing contains it, labels holding the query's letters in order are kept
// instead, so "grcs" still finds "Groceries". An empty query keeps everything.
func Filter[E any](items []E, label func(E) string, query string) []E {
	if query == "" {
		out := make([]E, len(items))
		copy(out, items)
		return out
	}
	q := strings.ToLower(query)
	var out []E
	for _, it := range items {
		if strings.Contains(strings.ToLower(label(it)), q) {
			out = append(out, it)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, it := range items {
		if fuzzy.MatchFold(query, label(it)) {
			out = append(out, it)
		}
	}
	return out
}
