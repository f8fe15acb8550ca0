package model

import (
	"sync"
	"time"
)

// PipelineStage is one of the ordered stages of answering a query
type PipelineStage string

const (
	StageQueryUnderstanding PipelineStage = "query_understanding"
	StageRetrieval          PipelineStage = "retrieval"
	StageExtraction         PipelineStage = "extraction"
	StageGeneration         PipelineStage = "generation"
)

// PipelineStages lists the stages in execution order
var PipelineStages = []PipelineStage{
	StageQueryUnderstanding,
	StageRetrieval,
	StageExtraction,
	StageGeneration,
}

// NextStage returns the stage after s, or false if s is the last one
func NextStage(s PipelineStage) (PipelineStage, bool) {
	for i, stage := range PipelineStages {
		if stage == s && i+1 < len(PipelineStages) {
			return PipelineStages[i+1], true
		}
	}
	return "", false
}

// PipelineData is the partial output accumulated by completed stages
type PipelineData struct {
	StructuredQuery *StructuredQuery
	Retrieval       *RetrievalResult
	Extractions     []Extraction
	ExtractionsDone bool
	Answer          *GeneratedAnswer
}

// PipelineContext tracks one query while it moves through the stages.
// Stage data is write-once: a recorded value is never replaced, and nothing
// is recorded after the context was abandoned.
type PipelineContext struct {
	mu        sync.RWMutex
	stage     PipelineStage
	data      PipelineData
	abandoned bool

	StartTime time.Time
	Timeout   time.Duration
}

// NewPipelineContext creates a context for a query with the given wall-clock budget
func NewPipelineContext(timeout time.Duration) *PipelineContext {
	return &PipelineContext{
		stage:     StageQueryUnderstanding,
		StartTime: time.Now(),
		Timeout:   timeout,
	}
}

// Enter marks stage as the one currently running
func (c *PipelineContext) Enter(stage PipelineStage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.abandoned {
		c.stage = stage
	}
}

// Stage returns the stage currently (or last) running
func (c *PipelineContext) Stage() PipelineStage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stage
}

// RecordStructuredQuery stores the understood query
func (c *PipelineContext) RecordStructuredQuery(q *StructuredQuery) bool {
	return c.record(func(d *PipelineData) bool {
		if d.StructuredQuery != nil || q == nil {
			return false
		}
		d.StructuredQuery = q
		return true
	})
}

// RecordRetrieval stores the retrieval output
func (c *PipelineContext) RecordRetrieval(r *RetrievalResult) bool {
	return c.record(func(d *PipelineData) bool {
		if d.Retrieval != nil || r == nil {
			return false
		}
		d.Retrieval = r
		return true
	})
}

// RecordExtractions stores the pass 1 output; an empty slice is a valid result
func (c *PipelineContext) RecordExtractions(extractions []Extraction) bool {
	return c.record(func(d *PipelineData) bool {
		if d.ExtractionsDone {
			return false
		}
		d.Extractions = append([]Extraction(nil), extractions...)
		d.ExtractionsDone = true
		return true
	})
}

// RecordAnswer stores the generated answer
func (c *PipelineContext) RecordAnswer(a *GeneratedAnswer) bool {
	return c.record(func(d *PipelineData) bool {
		if d.Answer != nil || a == nil {
			return false
		}
		d.Answer = a
		return true
	})
}

func (c *PipelineContext) record(apply func(d *PipelineData) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return false
	}
	return apply(&c.data)
}

// Abandon freezes the context; later records are ignored
func (c *PipelineContext) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
}

// Abandoned reports whether the context was frozen
func (c *PipelineContext) Abandoned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.abandoned
}

// Snapshot returns a copy of the recorded data
func (c *PipelineContext) Snapshot() PipelineData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.data
	d.Extractions = append([]Extraction(nil), c.data.Extractions...)
	return d
}

// CompletedStages returns the stages whose output has been recorded, in order
func (c *PipelineContext) CompletedStages() []PipelineStage {
	d := c.Snapshot()
	return d.CompletedStages()
}

// CompletedStages returns the stages whose output is present, in order
func (d PipelineData) CompletedStages() []PipelineStage {
	var stages []PipelineStage
	if d.StructuredQuery != nil {
		stages = append(stages, StageQueryUnderstanding)
	}
	if d.Retrieval != nil {
		stages = append(stages, StageRetrieval)
	}
	if d.ExtractionsDone {
		stages = append(stages, StageExtraction)
	}
	if d.Answer != nil {
		stages = append(stages, StageGeneration)
	}
	return stages
}

// Elapsed returns the time spent since the context was created
func (c *PipelineContext) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}
