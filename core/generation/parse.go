package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const labelExpr = `short answer|brief answer|answer|detailed summary|detailed answer|detailed explanation|summary|details?`

var (
	// labelPrefixPattern matches a label at the start of a line, optionally in
	// markdown heading or emphasis, followed by a colon or dash
	labelPrefixPattern = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:[*_]{1,2}\s*)?(?:` + labelExpr + `)(?:\s*[*_]{1,2})?\s*[:\-–](?:\s*[*_]{1,2})?\s*`)

	// labelLinePattern matches a line that holds nothing but a label
	labelLinePattern = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:[*_]{1,2}\s*)?(?:` + labelExpr + `)(?:\s*[*_]{1,2})?\s*(?:[:\-–](?:\s*[*_]{1,2})?)?\s*$`)

	// inlineDetailPattern finds a detail label inside the short answer line
	inlineDetailPattern = regexp.MustCompile(`(?i)\s+(?:[*_]{1,2})?(?:detailed summary|detailed answer|details)(?:[*_]{1,2})?\s*:(?:[*_]{1,2})?\s*`)

	codeFencePattern = regexp.MustCompile("^\\s*```[a-zA-Z]*\\s*$")
)

// StripLabel removes a leading answer label such as "Short answer:" or
// "**Detailed Summary:**" from line
func StripLabel(line string) string {
	return strings.TrimSpace(labelPrefixPattern.ReplaceAllString(line, ""))
}

// ParseSummary splits a pass 2 response into the short answer and the
// detailed summary. The first non-blank line is the short answer and the
// remaining lines are the detail. Lines holding only a label and markdown
// code fences are dropped, label prefixes are stripped.
func ParseSummary(text string) (shortAnswer string, detailedSummary string) {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if codeFencePattern.MatchString(line) || labelLinePattern.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}

	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) {
		return "", ""
	}
	shortAnswer = StripLabel(lines[start])

	var detail []string
	if loc := inlineDetailPattern.FindStringIndex(shortAnswer); loc != nil {
		detail = append(detail, shortAnswer[loc[1]:])
		shortAnswer = strings.TrimSpace(shortAnswer[:loc[0]])
	}
	for _, line := range lines[start+1:] {
		detail = append(detail, strings.TrimRight(labelPrefixPattern.ReplaceAllString(line, ""), " \t"))
	}
	detailedSummary = strings.TrimSpace(strings.Join(detail, "\n"))
	return shortAnswer, detailedSummary
}

// ParseExtractionJSON decodes the pass 1 model output. Both an object with
// an "extractions" array and a bare array are accepted, optionally wrapped
// in a markdown code fence.
func ParseExtractionJSON(text string) ([]RawExtraction, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}
	if text == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(text, "[") {
		var list []RawExtraction
		if err := json.Unmarshal([]byte(text), &list); err != nil {
			return nil, fmt.Errorf("decode extraction array: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Extractions []RawExtraction `json:"extractions"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
		return nil, fmt.Errorf("decode extraction object: %w", err)
	}
	return wrapped.Extractions, nil
}
