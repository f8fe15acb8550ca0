package verification

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// Severity grades a count discrepancy
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ClaimKind is the form in which a quantity was claimed
type ClaimKind string

const (
	ClaimExact       ClaimKind = "exact"
	ClaimRange       ClaimKind = "range"
	ClaimApproximate ClaimKind = "approximate"
	ClaimVague       ClaimKind = "vague"
)

// OpenEnded marks a claim without an upper bound
const OpenEnded = -1

// CountClaim is a quantity claim found in generated text.
// Start and End are byte offsets of the claim phrase.
type CountClaim struct {
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Kind       ClaimKind `json:"kind"`
	EntityType string    `json:"entity_type"`
	Claimed    int       `json:"claimed"`
	Min        int       `json:"min"`
	Max        int       `json:"max"`
	adjective  string
}

// Accepts reports whether count lies in the acceptable range of the claim
func (c CountClaim) Accepts(count int) bool {
	return count >= c.Min && (c.Max == OpenEnded || count <= c.Max)
}

// Discrepancy is a claim that does not match the extracted count
type Discrepancy struct {
	Claim      CountClaim `json:"claim"`
	Actual     int        `json:"actual"`
	Difference int        `json:"difference"`
	Severity   Severity   `json:"severity"`
}

// CountVerification is the result of checking one text
type CountVerification struct {
	Passed        bool           `json:"passed"`
	Claims        []CountClaim   `json:"claims"`
	Discrepancies []Discrepancy  `json:"discrepancies"`
	Counts        map[string]int `json:"counts"`
	Corrected     bool           `json:"corrected"`
	CorrectedText string         `json:"corrected_text,omitempty"`
}

// Text returns the corrected text if a correction was made, otherwise original
func (v CountVerification) Text(original string) string {
	if v.Corrected {
		return v.CorrectedText
	}
	return original
}

const (
	numberExpr    = `\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty`
	adjectiveExpr = `(?:\s+([a-z]+))?`
	nounExpr      = `medications?|meds?|drugs?|prescriptions?|diagnos[ie]s|conditions?|problems?|diseases?|procedures?|surgery|surgeries|operations?|lab results?|labs?|tests?|allergy|allergies|immunizations?|vaccines?|vaccinations?`
)

var (
	rangeClaimPattern  = regexp.MustCompile(`(?i)\b(` + numberExpr + `)\s*(?:-|–|to)\s*(` + numberExpr + `)` + adjectiveExpr + `\s+(` + nounExpr + `)\b`)
	approxClaimPattern = regexp.MustCompile(`(?i)(?:\b(?:approximately|about|around|roughly|nearly)\s+|~\s*)(` + numberExpr + `)` + adjectiveExpr + `\s+(` + nounExpr + `)\b`)
	vagueClaimPattern  = regexp.MustCompile(`(?i)\b(several|multiple|many|numerous|a few)` + adjectiveExpr + `\s+(` + nounExpr + `)\b`)
	exactClaimPattern  = regexp.MustCompile(`(?i)\b(` + numberExpr + `)` + adjectiveExpr + `\s+(` + nounExpr + `)\b`)
)

// unitWords are measurement units that look like adjectives after a number
var unitWords = map[string]bool{
	"mg": true, "mcg": true, "g": true, "ml": true, "l": true, "iu": true, "unit": true, "units": true,
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20,
}

var vagueMinimums = map[string]int{
	"several":  3,
	"multiple": 2,
	"many":     3,
	"numerous": 3,
	"a few":    2,
}

// canonicalNouns holds singular and plural of each normalized entity type
var canonicalNouns = map[string][2]string{
	"medication":   {"medication", "medications"},
	"condition":    {"condition", "conditions"},
	"procedure":    {"procedure", "procedures"},
	"test":         {"test", "tests"},
	"allergy":      {"allergy", "allergies"},
	"immunization": {"immunization", "immunizations"},
}

// NormalizeEntityWord maps a claimed noun to its entity type
func NormalizeEntityWord(word string) string {
	word = strings.ToLower(strings.TrimSpace(word))
	switch {
	case strings.HasPrefix(word, "med"), strings.HasPrefix(word, "drug"), strings.HasPrefix(word, "prescription"):
		return "medication"
	case strings.HasPrefix(word, "diagnos"), strings.HasPrefix(word, "condition"), strings.HasPrefix(word, "problem"), strings.HasPrefix(word, "disease"):
		return "condition"
	case strings.HasPrefix(word, "procedure"), strings.HasPrefix(word, "surger"), strings.HasPrefix(word, "operation"):
		return "procedure"
	case strings.HasPrefix(word, "lab"), strings.HasPrefix(word, "test"):
		return "test"
	case strings.HasPrefix(word, "allerg"):
		return "allergy"
	case strings.HasPrefix(word, "immunization"), strings.HasPrefix(word, "vaccin"):
		return "immunization"
	default:
		return word
	}
}

// NormalizeExtractionType maps an extraction type onto the claim vocabulary
func NormalizeExtractionType(t model.ExtractionType) string {
	switch t {
	case model.ExtractionTypeLabResult:
		return "test"
	default:
		return NormalizeEntityWord(string(t))
	}
}

func parseNumber(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CountVerifier cross-checks quantity claims in prose against extraction counts
type CountVerifier struct {
	criticalThreshold int
	warningThreshold  int
	autoCorrect       bool
	logger            *slog.Logger
}

// NewCountVerifier creates a count verifier from the verification config
func NewCountVerifier(config model.VerificationConfig, logger *slog.Logger) *CountVerifier {
	return &CountVerifier{
		criticalThreshold: config.CriticalThreshold,
		warningThreshold:  config.WarningThreshold,
		autoCorrect:       config.AutoCorrect,
		logger:            helper.LoggerOrDefault(logger),
	}
}

// ParseClaims finds all quantity claims in text, ordered by position.
// Ranges take precedence over approximations, approximations over vague
// quantifiers and those over exact counts when phrases overlap.
func (v *CountVerifier) ParseClaims(text string) []CountClaim {
	var claims []CountClaim
	taken := func(start, end int) bool {
		for _, c := range claims {
			if start < c.End && end > c.Start {
				return true
			}
		}
		return false
	}

	for _, m := range rangeClaimPattern.FindAllStringSubmatchIndex(text, -1) {
		low, okLow := parseNumber(text[m[2]:m[3]])
		high, okHigh := parseNumber(text[m[4]:m[5]])
		if !okLow || !okHigh || gluedNumber(text, m[2]) || taken(m[0], m[1]) {
			continue
		}
		if low > high {
			low, high = high, low
		}
		claims = appendClaim(claims, text, m, ClaimRange, low, low, high, 6, 8)
	}

	for _, m := range approxClaimPattern.FindAllStringSubmatchIndex(text, -1) {
		n, ok := parseNumber(text[m[2]:m[3]])
		if !ok || gluedNumber(text, m[2]) || taken(m[0], m[1]) {
			continue
		}
		low := n - 1
		if low < 0 {
			low = 0
		}
		claims = appendClaim(claims, text, m, ClaimApproximate, n, low, n+1, 4, 6)
	}

	for _, m := range vagueClaimPattern.FindAllStringSubmatchIndex(text, -1) {
		if taken(m[0], m[1]) {
			continue
		}
		minimum := vagueMinimums[strings.ToLower(text[m[2]:m[3]])]
		claims = appendClaim(claims, text, m, ClaimVague, minimum, minimum, OpenEnded, 4, 6)
	}

	for _, m := range exactClaimPattern.FindAllStringSubmatchIndex(text, -1) {
		n, ok := parseNumber(text[m[2]:m[3]])
		if !ok || gluedNumber(text, m[2]) || taken(m[0], m[1]) {
			continue
		}
		claims = appendClaim(claims, text, m, ClaimExact, n, n, n, 4, 6)
	}

	sort.Slice(claims, func(i, j int) bool { return claims[i].Start < claims[j].Start })
	return claims
}

// gluedNumber reports whether the number starting at start is part of a
// larger token such as "COVID-19", "2024-01-05" or "1/2".
func gluedNumber(text string, start int) bool {
	if start <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return r == '-' || r == '/' || r == '.' || r == ':' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// appendClaim builds a claim from a submatch index; adjIdx and nounIdx point at
// the adjective and noun groups. Dosages such as "500 mg medication" are skipped.
func appendClaim(claims []CountClaim, text string, m []int, kind ClaimKind, claimed, minimum, maximum int, adjIdx, nounIdx int) []CountClaim {
	claim := CountClaim{
		Text:       text[m[0]:m[1]],
		Start:      m[0],
		End:        m[1],
		Kind:       kind,
		EntityType: NormalizeEntityWord(text[m[nounIdx]:m[nounIdx+1]]),
		Claimed:    claimed,
		Min:        minimum,
		Max:        maximum,
	}
	if m[adjIdx] >= 0 {
		claim.adjective = text[m[adjIdx]:m[adjIdx+1]]
		if unitWords[strings.ToLower(claim.adjective)] {
			return claims
		}
	}
	return append(claims, claim)
}

// CountExtractions counts extractions per normalized entity type
func (v *CountVerifier) CountExtractions(extractions []model.Extraction) map[string]int {
	counts := map[string]int{}
	for _, extraction := range extractions {
		counts[NormalizeExtractionType(extraction.Type)]++
	}
	return counts
}

// Verify checks every claim in text against the extractions. If a critical
// discrepancy is found and auto-correction is enabled, all discrepant claims
// are rewritten with the actual count and the corrected text is verified again.
func (v *CountVerifier) Verify(text string, extractions []model.Extraction) CountVerification {
	counts := v.CountExtractions(extractions)
	result := v.check(text, counts)
	if result.Passed || !v.autoCorrect {
		return result
	}

	corrected := v.correct(text, result.Discrepancies)
	recheck := v.check(corrected, counts)
	result.Corrected = corrected != text
	result.CorrectedText = corrected
	result.Passed = recheck.Passed

	v.logger.Warn(
		"Count claims corrected",
		slog.Int("discrepancies", len(result.Discrepancies)),
		slog.Bool("passed", result.Passed),
	)
	return result
}

func (v *CountVerifier) check(text string, counts map[string]int) CountVerification {
	result := CountVerification{
		Passed:        true,
		Claims:        v.ParseClaims(text),
		Discrepancies: []Discrepancy{},
		Counts:        counts,
	}
	for _, claim := range result.Claims {
		if d, ok := v.discrepancy(claim, counts[claim.EntityType]); ok {
			result.Discrepancies = append(result.Discrepancies, d)
			if d.Severity == SeverityCritical {
				result.Passed = false
			}
		}
	}
	return result
}

func (v *CountVerifier) discrepancy(claim CountClaim, actual int) (Discrepancy, bool) {
	d := Discrepancy{Claim: claim, Actual: actual}
	switch {
	case actual < claim.Min:
		d.Difference = claim.Min - actual
	case claim.Max != OpenEnded && actual > claim.Max:
		d.Difference = actual - claim.Max
	case claim.Kind == ClaimApproximate && actual != claim.Claimed:
		d.Difference = abs(actual - claim.Claimed)
		d.Severity = SeverityInfo
		return d, true
	default:
		return d, false
	}

	switch {
	case d.Difference >= v.criticalThreshold:
		d.Severity = SeverityCritical
	case d.Difference >= v.warningThreshold:
		d.Severity = SeverityWarning
	default:
		d.Severity = SeverityInfo
	}
	return d, true
}

// correct replaces discrepant claim phrases from back to front so offsets stay valid
func (v *CountVerifier) correct(text string, discrepancies []Discrepancy) string {
	var fixes []Discrepancy
	for _, d := range discrepancies {
		if d.Severity == SeverityCritical || d.Severity == SeverityWarning {
			fixes = append(fixes, d)
		}
	}
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].Claim.Start > fixes[j].Claim.Start })

	for _, d := range fixes {
		text = text[:d.Claim.Start] + CountPhrase(d.Actual, d.Claim.adjective, d.Claim.EntityType) + text[d.Claim.End:]
	}
	return text
}

// CountPhrase renders a count with a correctly pluralized noun, e.g. "1 medication" or "no allergies"
func CountPhrase(count int, adjective string, entityType string) string {
	nouns, ok := canonicalNouns[entityType]
	if !ok {
		nouns = [2]string{entityType, entityType + "s"}
	}
	noun := nouns[1]
	if count == 1 {
		noun = nouns[0]
	}
	if adjective != "" {
		noun = adjective + " " + noun
	}
	if count == 0 {
		return "no " + noun
	}
	return fmt.Sprintf("%d %s", count, noun)
}

// AnswerVerification is the count verification of both parts of an answer
type AnswerVerification struct {
	Passed   bool              `json:"passed"`
	Short    CountVerification `json:"short"`
	Detailed CountVerification `json:"detailed"`
	Warnings []string          `json:"warnings,omitempty"`
}

// VerifyAnswer verifies the short answer and the detailed summary
func (v *CountVerifier) VerifyAnswer(answer *model.GeneratedAnswer, extractions []model.Extraction) AnswerVerification {
	result := AnswerVerification{
		Short:    v.Verify(answer.ShortAnswer, extractions),
		Detailed: v.Verify(answer.DetailedSummary, extractions),
	}
	result.Passed = result.Short.Passed && result.Detailed.Passed

	for _, part := range []CountVerification{result.Short, result.Detailed} {
		for _, d := range part.Discrepancies {
			if d.Severity == SeverityInfo {
				continue
			}
			action := "kept"
			if part.Corrected {
				action = "corrected"
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s: claim %q does not match %d extracted %s (%s)",
				d.Severity, d.Claim.Text, d.Actual, d.Claim.EntityType, action,
			))
		}
	}
	return result
}

// Apply returns a copy of answer with corrected texts and the verification warnings attached
func (a AnswerVerification) Apply(answer *model.GeneratedAnswer) *model.GeneratedAnswer {
	updated := *answer
	updated.ShortAnswer = a.Short.Text(answer.ShortAnswer)
	updated.DetailedSummary = a.Detailed.Text(answer.DetailedSummary)
	updated.VerificationWarnings = append(append([]string(nil), answer.VerificationWarnings...), a.Warnings...)
	return &updated
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
