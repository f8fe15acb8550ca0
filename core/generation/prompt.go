package generation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/siherrmann/medrag/core/verification"
	"github.com/siherrmann/medrag/model"
)

// ExtractionSystemPrompt instructs pass 1 to return cited facts as JSON
const ExtractionSystemPrompt = `You extract facts from a patient's clinical records.
Use only the record excerpts you are given. Never add knowledge from outside the excerpts.
Return a JSON object of the form:
{"extractions": [{"type": "<medication|condition|procedure|lab_result|allergy|immunization|vital_sign|observation>",
  "content": {<fields of the fact, e.g. "name", "dose", "frequency", "status", "value", "unit", "date">},
  "provenance": {"artifact_id": "<artifact id of the excerpt>", "chunk_id": "<chunk id of the excerpt>",
    "char_offsets": [<start>, <end>], "supporting_text": "<exact text of the excerpt between the offsets>",
    "confidence": <0.0 to 1.0>}}]}
char_offsets are character offsets into the excerpt content. supporting_text must be copied exactly from the excerpt.
Each fact gets exactly one provenance object. Return {"extractions": []} if the excerpts contain no relevant facts.`

// SummarySystemPrompt instructs pass 2 to phrase the extracted facts only
const SummarySystemPrompt = `You answer a clinician's question about a patient using only the extracted facts you are given.
You never see the source records. Do not add facts, counts or details that are not in the list.
Write the short answer on the first line. Write the detailed summary on the following lines.
Do not prefix the lines with labels such as "Short answer:" or "Detailed summary:".
When you state how many items there are, use the exact counts given.`

// NoInformationSummary is the answer used when nothing was extracted and the model returned nothing
const NoInformationSummary = "No information was found in the patient's records to answer this question."

var detailInstructions = map[model.DetailLevel]string{
	model.DetailLevelBrief:         "Keep the detailed summary to one or two sentences.",
	model.DetailLevelStandard:      "Write the detailed summary as one short paragraph.",
	model.DetailLevelComprehensive: "Write a thorough detailed summary grouped by fact type, including dates, doses and statuses where given.",
}

// DetailInstruction returns the summary length instruction for a detail level
func DetailInstruction(level model.DetailLevel) string {
	if instruction, ok := detailInstructions[level]; ok {
		return instruction
	}
	return detailInstructions[model.DetailLevelStandard]
}

// BuildExtractionPrompt renders the pass 1 user prompt from the query and the
// ranked candidates. Each excerpt carries its chunk and artifact id so the
// model can cite it.
func BuildExtractionPrompt(query *model.StructuredQuery, candidates []model.RetrievalCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query.OriginalQuery)
	if types := model.ExpectedExtractionTypes(query.Intent); len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, "Extract facts of type: %s\n", strings.Join(names, ", "))
	}
	if len(query.Entities) > 0 {
		entities := make([]string, len(query.Entities))
		for i, e := range query.Entities {
			entities[i] = e.Text
		}
		fmt.Fprintf(&b, "Entities of interest: %s\n", strings.Join(entities, ", "))
	}

	b.WriteString("\nRecord excerpts:\n")
	for i, candidate := range candidates {
		if candidate.Chunk == nil {
			continue
		}
		fmt.Fprintf(&b, "\n[%d] chunk_id=%s artifact_id=%s", i+1, candidate.Chunk.ID, candidate.Chunk.ArtifactID)
		if t := candidate.Chunk.Metadata.ArtifactType; t != "" {
			fmt.Fprintf(&b, " type=%s", t)
		}
		if d := candidate.Chunk.Metadata.Date; d != "" {
			fmt.Fprintf(&b, " date=%s", d)
		}
		fmt.Fprintf(&b, "\n%s\n", candidate.Chunk.Content)
	}
	return b.String()
}

// summaryFact is the view of an extraction pass 2 is allowed to see.
// Provenance is omitted because its supporting text is source text.
type summaryFact struct {
	Type    model.ExtractionType   `json:"type"`
	Content map[string]interface{} `json:"content"`
}

// BuildSummaryPrompt renders the pass 2 user prompt from the extractions only.
// An empty extraction list yields the no-information prompt.
func BuildSummaryPrompt(query *model.StructuredQuery, extractions []model.Extraction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query.OriginalQuery)

	if len(extractions) == 0 {
		b.WriteString("\nNo information was extracted from the patient's records for this question.\n")
		b.WriteString("State on the first line that no relevant information was found in the records. ")
		b.WriteString("On the following line suggest that the records may be incomplete. Do not guess or add any facts.\n")
		return b.String()
	}

	counts := map[string]int{}
	for _, extraction := range extractions {
		counts[verification.NormalizeExtractionType(extraction.Type)]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = verification.CountPhrase(counts[t], "", t)
	}
	fmt.Fprintf(&b, "Extracted counts: %s\n", strings.Join(parts, ", "))

	b.WriteString("\nExtracted facts:\n")
	for _, extraction := range extractions {
		line, err := json.Marshal(summaryFact{Type: extraction.Type, Content: extraction.Content})
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}

	fmt.Fprintf(&b, "\n%s\n", DetailInstruction(query.DetailLevel))
	return b.String()
}
