package retrieval

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/siherrmann/medrag/model"
)

const ellipsis = "..."

// searchable returns the lower-cased content if lower-casing keeps byte
// offsets stable, otherwise the content itself.
func searchable(content string) string {
	lower := strings.ToLower(content)
	if len(lower) != len(content) {
		return content
	}
	return lower
}

// FindHighlights returns every occurrence of the terms in content, ordered by position.
// Terms are expected to be lower-case.
func FindHighlights(content string, terms []string) []model.Highlight {
	haystack := searchable(content)
	var highlights []model.Highlight
	for _, term := range terms {
		if term == "" {
			continue
		}
		offset := 0
		for {
			idx := strings.Index(haystack[offset:], term)
			if idx < 0 {
				break
			}
			start := offset + idx
			highlights = append(highlights, model.Highlight{
				Term:  term,
				Start: start,
				End:   start + len(term),
			})
			offset = start + len(term)
		}
	}
	sort.SliceStable(highlights, func(i, j int) bool {
		return highlights[i].Start < highlights[j].Start
	})
	return highlights
}

// BuildSnippet cuts a window of about length bytes from content, centered on the
// first occurrence of any term. Cuts are moved to word boundaries and marked with an ellipsis.
func BuildSnippet(content string, terms []string, length int) string {
	content = strings.TrimSpace(content)
	if length <= 0 || len(content) <= length {
		return content
	}

	matchStart, matchLen := -1, 0
	haystack := searchable(content)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if idx := strings.Index(haystack, term); idx >= 0 && (matchStart < 0 || idx < matchStart) {
			matchStart, matchLen = idx, len(term)
		}
	}

	start := 0
	if matchStart >= 0 {
		start = matchStart + matchLen/2 - length/2
	}
	if start > len(content)-length {
		start = len(content) - length
	}
	if start < 0 {
		start = 0
	}
	end := start + length

	// Word boundaries, never cutting into the match itself.
	if start > 0 {
		limit := end
		if matchStart >= 0 && matchStart >= start {
			limit = matchStart
		}
		if i := strings.IndexAny(content[start:limit], " \t\n"); i >= 0 {
			start += i + 1
		}
	}
	if end < len(content) {
		floor := start
		if matchStart >= 0 && matchStart+matchLen <= end {
			floor = matchStart + matchLen
		}
		if i := strings.LastIndexAny(content[floor:end], " \t\n"); i >= 0 {
			end = floor + i
		}
	}

	for start < end && !utf8.RuneStart(content[start]) {
		start++
	}
	for end < len(content) && end > start && !utf8.RuneStart(content[end]) {
		end--
	}

	snippet := strings.TrimSpace(content[start:end])
	if start > 0 {
		snippet = ellipsis + snippet
	}
	if end < len(content) {
		snippet += ellipsis
	}
	return snippet
}
