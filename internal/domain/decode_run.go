package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DecodeRunStatus tracks the lifecycle of one file decode.
type DecodeRunStatus string

const (
	DecodeRunRunning   DecodeRunStatus = "running"
	DecodeRunCompleted DecodeRunStatus = "completed"
	DecodeRunFailed    DecodeRunStatus = "failed"
)

// DecodeRun is the audit row written for each decoded upload.
type DecodeRun struct {
	ID                uuid.UUID       `json:"id"`
	UploadID          string          `json:"upload_id"`
	FileName          string          `json:"file_name"`
	Status            DecodeRunStatus `json:"status"`
	TotalLines        int             `json:"total_lines"`
	DecodedCount      int             `json:"decoded_count"`
	ErrorCount        int             `json:"error_count"`
	DuplicatesRemoved int64           `json:"duplicates_removed"`
	RecordTypeCounts  map[string]int  `json:"record_type_counts"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// CountsToJSON marshals the per-type counts for storage.
func (r DecodeRun) CountsToJSON() (json.RawMessage, error) {
	counts := r.RecordTypeCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return json.Marshal(counts)
}
