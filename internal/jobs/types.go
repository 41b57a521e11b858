package jobs

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

const (
	SourcePipeline = "pipeline"
	SourceRecovery = "recovery"
)

type EnqueueRequest struct {
	Source    string
	DedupeKey string
	Payload   JobPayload
}

// JobPayload identifies the record whose remaining subtitles a job translates.
type JobPayload struct {
	RecordID       string `json:"record_id"`
	OwnerID        string `json:"owner_id"`
	VideoID        string `json:"video_id"`
	TargetLanguage string `json:"target_language"`
	// StartIndex is the first subtitle the job is responsible for.
	StartIndex int `json:"start_index"`
}

type Job struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	DedupeKey string     `json:"dedupe_key"`
	Payload   JobPayload `json:"payload"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
