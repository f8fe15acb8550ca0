package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/medrag/helper"
)

// LoadCorpus reads chunks from a file. A .jsonl file holds one chunk per
// line; any other file holds a JSON array of chunks or an object with a
// "chunks" array. Chunks without an id get a random one, patient ids are
// required and ids must be unique.
func LoadCorpus(filePath string) ([]*Chunk, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, helper.NewError("read corpus", err)
	}

	var chunks []*Chunk
	if strings.EqualFold(filepath.Ext(filePath), ".jsonl") {
		chunks, err = decodeChunkLines(content)
	} else {
		chunks, err = decodeChunks(content)
	}
	if err != nil {
		return nil, helper.NewError("decode corpus", err)
	}

	seen := make(map[string]bool, len(chunks))
	for i, chunk := range chunks {
		if chunk == nil {
			return nil, helper.NewError("validate corpus", fmt.Errorf("chunk %d is empty", i))
		}
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		if chunk.PatientID == "" {
			return nil, helper.NewError("validate corpus", fmt.Errorf("chunk %s has no patient id", chunk.ID))
		}
		if seen[chunk.ID] {
			return nil, helper.NewError("validate corpus", fmt.Errorf("duplicate chunk id %s", chunk.ID))
		}
		seen[chunk.ID] = true
	}
	return chunks, nil
}

func decodeChunks(content []byte) ([]*Chunk, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return []*Chunk{}, nil
	}
	if content[0] == '[' {
		var chunks []*Chunk
		err := json.Unmarshal(content, &chunks)
		return chunks, err
	}
	var wrapped struct {
		Chunks []*Chunk `json:"chunks"`
	}
	err := json.Unmarshal(content, &wrapped)
	return wrapped.Chunks, err
}

func decodeChunkLines(content []byte) ([]*Chunk, error) {
	chunks := []*Chunk{}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		chunk := &Chunk{}
		if err := json.Unmarshal(text, chunk); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, scanner.Err()
}
