package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/siherrmann/medrag"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	corpusPath := flag.String("corpus", "", "JSON or JSON lines corpus file")
	patientID := flag.String("patient", "", "patient to query")
	flag.Parse()
	if *corpusPath == "" || *patientID == "" {
		log.Fatal("-corpus and -patient are required")
	}

	config, err := model.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.Storage.Backend = model.StoragePostgres

	// Start a test PostgreSQL container with pgvector
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	reg := prometheus.NewRegistry()
	m, err := medrag.NewMedrag(
		config,
		medrag.WithDatabase(dbConfig),
		medrag.WithRegisterer(reg),
		medrag.WithLogger(helper.NewTracingLogger(os.Stdout, slog.LevelDebug)),
	)
	if err != nil {
		log.Fatalf("Failed to create medrag: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	fmt.Println("=== Indexing corpus ===")
	if err := m.InitializeFromFile(ctx, *corpusPath); err != nil {
		log.Fatalf("Failed to initialize corpus: %v", err)
	}
	count, err := m.Chunks.CountChunks(ctx)
	if err != nil {
		log.Fatalf("Failed to count chunks: %v", err)
	}
	fmt.Printf("%d chunks stored\n", count)

	oneYearAgo := time.Now().AddDate(-1, 0, 0)
	queries := []*model.StructuredQuery{
		{
			OriginalQuery: "What medications is the patient taking?",
			PatientID:     *patientID,
			Intent:        model.IntentRetrieveMedications,
			DetailLevel:   model.DetailLevelBrief,
		},
		{
			OriginalQuery:  "Which lab results were recorded in the last year?",
			PatientID:      *patientID,
			Intent:         model.IntentRetrieveLabResults,
			TemporalFilter: &model.DateRange{From: &oneYearAgo},
			DetailLevel:    model.DetailLevelStandard,
		},
		{
			OriginalQuery: "Summarize the record",
			PatientID:     *patientID,
			Intent:        model.IntentSummarizeRecord,
			DetailLevel:   model.DetailLevelComprehensive,
		},
	}

	// 1. Retrieval only, all queries at once
	fmt.Println("\n=== 1. Batch retrieval ===")
	for _, result := range m.BatchRetrieve(ctx, queries, 5) {
		if result.Err != nil {
			fmt.Printf("%s: %v\n", result.Query.OriginalQuery, result.Err)
			continue
		}
		fmt.Printf("%s: %d of %d chunks after filtering\n", result.Query.OriginalQuery, len(result.Result.Candidates), result.Result.FilteredCount)
		for _, candidate := range result.Result.Candidates {
			fmt.Printf("  %d. %s %.3f %s\n", candidate.Rank, candidate.ChunkID(), candidate.Score, candidate.Snippet)
		}
	}

	// 2. Full answers
	fmt.Println("\n=== 2. Answers ===")
	for _, query := range queries {
		response, err := m.Answer(ctx, query)
		if err != nil {
			log.Fatalf("Failed to answer: %v", err)
		}
		printResponse(query, response)
	}

	// 3. Pipeline metrics
	fmt.Println("\n=== 3. Metrics ===")
	families, err := reg.Gather()
	if err != nil {
		log.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, family := range families {
		fmt.Printf("%s: %d series\n", family.GetName(), len(family.GetMetric()))
	}
}

func printResponse(query *model.StructuredQuery, response *model.QueryResponse) {
	fmt.Printf("\n--- %s ---\n", query.OriginalQuery)
	if response.IsPartial() {
		fmt.Printf("Partial: %s at %s, %d%% complete\n", response.Partial.Reason, response.Partial.FailedStage, response.Partial.CompletionPercentage)
	}
	fmt.Printf("Short answer: %s\n", response.ShortAnswer)
	fmt.Printf("Summary: %s\n", response.DetailedSummary)
	fmt.Printf("Extractions: %d\n", len(response.StructuredExtractions))
	fmt.Printf("Confidence: %.2f (retrieval %.2f, reasoning %.2f, extraction %.2f)\n",
		response.Confidence.Overall,
		response.Confidence.Breakdown.Retrieval,
		response.Confidence.Breakdown.Reasoning,
		response.Confidence.Breakdown.Extraction,
	)
	fmt.Printf("Took %dms, %d tokens\n", response.Metadata.ProcessingTimeMs, response.Metadata.TokensUsed)
	for _, warning := range response.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
}
