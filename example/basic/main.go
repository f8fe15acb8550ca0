package main

import (
	"context"
	"fmt"
	"log"

	"github.com/siherrmann/medrag"
	"github.com/siherrmann/medrag/model"
)

func sampleRecord() []*model.Chunk {
	return []*model.Chunk{
		{
			ID:         "order-1",
			ArtifactID: "med-order-2024-05",
			PatientID:  "patient-42",
			Content:    "Metformin 500mg tablet twice daily with meals. Atorvastatin 20mg once daily at bedtime.",
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeMedicationOrder, Date: "2024-05-02"},
		},
		{
			ID:         "note-1",
			ArtifactID: "progress-note-2024-05",
			PatientID:  "patient-42",
			Content:    "Type 2 diabetes well controlled, HbA1c 6.8%. Continue metformin. Patient tolerates atorvastatin.",
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeProgressNote, Date: "2024-05-20", Author: "Dr. Meyer"},
		},
		{
			ID:         "labs-1",
			ArtifactID: "lab-2024-05",
			PatientID:  "patient-42",
			Content:    "HbA1c 6.8%, LDL cholesterol 92 mg/dL.",
			Metadata:   model.ChunkMetadata{ArtifactType: model.ArtifactTypeLabResult, Date: "2024-05-18"},
		},
	}
}

func main() {
	// In-memory index, hugot embeddings and an Ollama server on localhost
	m, err := medrag.NewMedrag(model.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create medrag: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	if err := m.Initialize(ctx, sampleRecord()); err != nil {
		log.Fatalf("Failed to initialize corpus: %v", err)
	}

	query := &model.StructuredQuery{
		OriginalQuery: "What medications is the patient currently taking?",
		PatientID:     "patient-42",
		Intent:        model.IntentRetrieveMedications,
		DetailLevel:   model.DetailLevelStandard,
	}

	fmt.Printf("Querying: %s\n", query.OriginalQuery)
	response, err := m.Answer(ctx, query)
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}

	if response.IsPartial() {
		fmt.Printf("\nPartial answer (%d%% complete, %s)\n", response.Partial.CompletionPercentage, response.Partial.Reason)
	}
	fmt.Printf("\nShort answer: %s\n", response.ShortAnswer)
	fmt.Printf("\n%s\n", response.DetailedSummary)
	fmt.Printf("\nConfidence: %.2f\n", response.Confidence.Overall)

	fmt.Printf("\nSources:\n")
	for _, item := range response.Provenance {
		fmt.Printf("- %s (%s) %.2f: %s\n", item.ArtifactID, item.OccurredAt, item.RelevanceScore, item.Snippet)
	}
	for _, warning := range response.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
}
