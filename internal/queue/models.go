package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle partition of a job. A job is in exactly one
// partition at all times.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobTypeImageGeneration is the only job type the worker currently runs.
const JobTypeImageGeneration = "image-generation"

// DefaultMaxRetries is the retry budget assigned when callers pass a
// non-positive value to Enqueue.
const DefaultMaxRetries = 3

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Prompt describes one image the generator should produce.
type Prompt struct {
	Name           string `json:"name"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	FilenamePrefix string `json:"filename_prefix,omitempty"`
	Description    string `json:"description,omitempty"`
}

// Payload carries the article context and prompt set for a generation job.
type Payload struct {
	ArticleID    string   `json:"article_id"`
	ArticleTitle string   `json:"article_title,omitempty"`
	Style        string   `json:"style,omitempty"`
	Theme        string   `json:"theme,omitempty"`
	OutputDir    string   `json:"output_dir,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	Variations   int      `json:"variations,omitempty"`
	Prompts      []Prompt `json:"prompts,omitempty"`
}

// Result accumulates completion data (generated files, upload summary).
// Complete merges new entries into any result recorded earlier.
type Result map[string]any

// Job represents a queue job persisted in SQLite.
type Job struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Status       Status     `json:"status"`
	Payload      Payload    `json:"payload"`
	Result       Result     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has reached a final partition.
func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// RetriesExhausted reports whether the retry budget is spent.
func (j Job) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}

// HealthSummary describes aggregated queue counts per lifecycle partition.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
