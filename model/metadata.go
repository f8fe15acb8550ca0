package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/siherrmann/medrag/helper"
)

// ChunkMetadata is the descriptive metadata of a chunk, stored as JSONB
type ChunkMetadata struct {
	ArtifactType ArtifactType `json:"artifact_type"`
	Date         string       `json:"date"`
	Author       string       `json:"author,omitempty"`
	Section      string       `json:"section,omitempty"`
	SourceURL    string       `json:"source_url,omitempty"`
}

// Value implements the driver.Valuer interface for database storage
func (m ChunkMetadata) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *ChunkMetadata) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

// Marshal converts ChunkMetadata to JSON bytes
func (m ChunkMetadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal converts JSON bytes or ChunkMetadata to ChunkMetadata
func (m *ChunkMetadata) Unmarshal(value interface{}) error {
	if value == nil {
		*m = ChunkMetadata{}
		return nil
	}

	if s, ok := value.(ChunkMetadata); ok {
		*m = s
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}

	return json.Unmarshal(b, m)
}
