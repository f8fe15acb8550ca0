package verification

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

var (
	separatorPattern = regexp.MustCompile(`[-_/,;:()\[\]+.]+`)
	dosagePattern    = regexp.MustCompile(`\b\d+\.?\d*\s*(mg|mcg|g|ml|l|iu|units?)\b`)
	saltPattern      = wordPattern(
		"calcium", "sodium", "potassium", "magnesium", "hydrochloride", "hcl",
		"dihydrochloride", "sulfate", "sulphate", "succinate", "tartrate", "maleate",
		"besylate", "mesylate", "citrate", "acetate", "phosphate", "bromide",
		"chloride", "fumarate", "monohydrate", "dihydrate", "trihydrate",
	)
	dosageFormPattern = wordPattern(
		"tablets?", "tabs?", "capsules?", "caps?", "oral", "solution", "suspension",
		"syrup", "injection", "injectable", "intravenous", "iv", "po", "cream",
		"ointment", "patch", "inhaler", "drops", "topical", "chewable", "film",
		"coated", "extended", "delayed", "release", "er", "xr", "sr", "dr",
	)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

func wordPattern(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(` + strings.Join(words, "|") + `)\b`)
}

// medicationNameKeys are the content keys holding a medication name, in priority order
var medicationNameKeys = []string{"name", "medication", "drug"}

// NormalizeMedicationName reduces a medication name to a form that is equal
// for variants of the same drug. The result is a fixed point: normalizing it
// again returns it unchanged.
func NormalizeMedicationName(name string) string {
	current := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	for i := 0; i < 8; i++ {
		next := normalizeOnce(current)
		if next == "" {
			// Nothing but dosage or form words, keep the plain name.
			return current
		}
		if next == current {
			return current
		}
		current = next
	}
	return current
}

func normalizeOnce(name string) string {
	name = strings.ToLower(name)
	name = dosagePattern.ReplaceAllString(name, " ")
	name = separatorPattern.ReplaceAllString(name, " ")
	name = dosagePattern.ReplaceAllString(name, " ")
	name = saltPattern.ReplaceAllString(name, " ")
	name = dosageFormPattern.ReplaceAllString(name, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(name, " "))
}

// DeduplicationReport describes what the deduplicator kept and removed
type DeduplicationReport struct {
	Extractions []model.Extraction `json:"extractions"`
	Removed     []model.Extraction `json:"removed"`

	// Groups maps a normalized medication name to the number of extractions merged into it
	Groups map[string]int `json:"groups"`
}

// MedicationDeduplicator merges medication extractions that name the same drug
type MedicationDeduplicator struct {
	logger *slog.Logger
}

// NewMedicationDeduplicator creates a new deduplicator
func NewMedicationDeduplicator(logger *slog.Logger) *MedicationDeduplicator {
	return &MedicationDeduplicator{logger: helper.LoggerOrDefault(logger)}
}

// Deduplicate keeps the most confident extraction per normalized medication name.
// Other extraction types and unnamed medications pass through untouched.
func (d *MedicationDeduplicator) Deduplicate(extractions []model.Extraction) []model.Extraction {
	return d.DeduplicateWithReport(extractions).Extractions
}

// DeduplicateWithReport is Deduplicate plus a report of the merged groups.
// The survivor of a group takes the position of the group's first extraction;
// on equal confidence the earlier extraction wins.
func (d *MedicationDeduplicator) DeduplicateWithReport(extractions []model.Extraction) DeduplicationReport {
	report := DeduplicationReport{Groups: map[string]int{}}

	winners := map[string]int{}
	slots := make([]int, len(extractions))
	for i, extraction := range extractions {
		slots[i] = i
		key := medicationKey(extraction)
		if key == "" {
			continue
		}
		report.Groups[key]++
		first, ok := winners[key]
		if !ok {
			winners[key] = i
			continue
		}
		slots[i] = -1
		if extraction.Confidence() > extractions[slots[first]].Confidence() {
			report.Removed = append(report.Removed, extractions[slots[first]])
			slots[first] = i
		} else {
			report.Removed = append(report.Removed, extraction)
		}
	}

	report.Extractions = make([]model.Extraction, 0, len(extractions)-len(report.Removed))
	for _, slot := range slots {
		if slot >= 0 {
			report.Extractions = append(report.Extractions, extractions[slot])
		}
	}

	if len(report.Removed) > 0 {
		d.logger.Debug("Duplicate medications removed", slog.Int("removed", len(report.Removed)))
	}
	return report
}

func medicationKey(extraction model.Extraction) string {
	if extraction.Type != model.ExtractionTypeMedication {
		return ""
	}
	name := extraction.ContentString(medicationNameKeys...)
	if name == "" {
		return ""
	}
	return NormalizeMedicationName(name)
}
