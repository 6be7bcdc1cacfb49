package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"easel/internal/config"
)

// Session statuses. Informational only; consumers should not branch on them
// for control flow.
const (
	StatusPreparing  = "preparing"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Variation statuses.
const (
	VariationPending    = "pending"
	VariationGenerating = "generating"
	VariationSuccess    = "success"
	VariationFailed     = "failed"
)

const statusFileName = "session_status.json"

// Variation is one image slot inside a session.
type Variation struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Filename string `json:"filename,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Record is the persisted session state.
type Record struct {
	SessionID  string      `json:"session_id"`
	Status     string      `json:"status"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Variations []Variation `json:"variations"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Progress summarizes a record for callers polling for completion.
type Progress struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Percent   float64 `json:"percent"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Total     int     `json:"total"`
	Done      bool    `json:"done"`
}

// ErrNoSession indicates no session record exists on disk.
var ErrNoSession = errors.New("no active session")

// Tracker persists session state to a single JSON file.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker builds a tracker rooted in the configured data directory.
func NewTracker(cfg *config.Config) *Tracker {
	return &Tracker{path: filepath.Join(cfg.Paths.DataDir, statusFileName)}
}

// NewTrackerAt builds a tracker for an explicit file path.
func NewTrackerAt(path string) *Tracker {
	return &Tracker{path: path}
}

// Path returns the status file location.
func (t *Tracker) Path() string {
	return t.path
}

// StartSession overwrites any previous record with a fresh session in the
// preparing state. An empty sessionID gets a generated identifier.
func (t *Tracker) StartSession(total int, sessionID string) (*Record, error) {
	if total < 0 {
		total = 0
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	record := &Record{
		SessionID: sessionID,
		Status:    StatusPreparing,
		Total:     total,
		StartedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.save(record); err != nil {
		return nil, err
	}
	return record, nil
}

// AddVariation registers an image slot on the current session. Position
// defaults to the next free index when negative.
func (t *Tracker) AddVariation(id string, position int, filename string) error {
	return t.mutate(func(record *Record) error {
		if id == "" {
			id = uuid.NewString()
		}
		if position < 0 {
			position = len(record.Variations)
		}
		record.Variations = append(record.Variations, Variation{
			ID:       id,
			Position: position,
			Filename: filename,
			Status:   VariationPending,
		})
		if len(record.Variations) > record.Total {
			record.Total = len(record.Variations)
		}
		return nil
	})
}

// MarkGenerating flips the session into the generating state.
func (t *Tracker) MarkGenerating() error {
	return t.mutate(func(record *Record) error {
		record.Status = StatusGenerating
		return nil
	})
}

// MarkVariationGenerating flags one slot as actively generating.
func (t *Tracker) MarkVariationGenerating(id string) error {
	return t.mutate(func(record *Record) error {
		variation := findVariation(record, id)
		if variation == nil {
			return fmt.Errorf("variation %q not found", id)
		}
		variation.Status = VariationGenerating
		return nil
	})
}

// MarkVariationCompleted records a successful slot. Counters saturate at the
// session total; repeated completion of the same slot does not double-count.
func (t *Tracker) MarkVariationCompleted(id, filename string) error {
	return t.mutate(func(record *Record) error {
		variation := findVariation(record, id)
		if variation == nil {
			return fmt.Errorf("variation %q not found", id)
		}
		if variation.Status == VariationSuccess {
			return nil
		}
		variation.Status = VariationSuccess
		variation.Error = ""
		if filename != "" {
			variation.Filename = filename
		}
		if record.Completed+record.Failed < record.Total {
			record.Completed++
		}
		return nil
	})
}

// MarkVariationFailed records a failed slot with its error message.
func (t *Tracker) MarkVariationFailed(id, message string) error {
	return t.mutate(func(record *Record) error {
		variation := findVariation(record, id)
		if variation == nil {
			return fmt.Errorf("variation %q not found", id)
		}
		if variation.Status == VariationFailed {
			return nil
		}
		variation.Status = VariationFailed
		variation.Error = message
		if record.Completed+record.Failed < record.Total {
			record.Failed++
		}
		return nil
	})
}

// MarkCompleted flips the session into the completed state.
func (t *Tracker) MarkCompleted() error {
	return t.mutate(func(record *Record) error {
		record.Status = StatusCompleted
		return nil
	})
}

// MarkFailed flips the session into the failed state with an error message.
func (t *Tracker) MarkFailed(message string) error {
	return t.mutate(func(record *Record) error {
		record.Status = StatusFailed
		record.Error = message
		return nil
	})
}

// Current returns the active session record, or ErrNoSession.
func (t *Tracker) Current() (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Progress summarizes the current record for pollers.
func (t *Tracker) Progress() (Progress, error) {
	record, err := t.Current()
	if err != nil {
		return Progress{}, err
	}
	progress := Progress{
		SessionID: record.SessionID,
		Status:    record.Status,
		Completed: record.Completed,
		Failed:    record.Failed,
		Total:     record.Total,
		Done:      record.Status == StatusCompleted || record.Status == StatusFailed,
	}
	if record.Total > 0 {
		progress.Percent = float64(record.Completed+record.Failed) / float64(record.Total) * 100
	}
	return progress, nil
}

// CheckTimeout marks a stale non-terminal session as failed when it started
// more than maxMinutes ago. Reports whether the session timed out.
func (t *Tracker) CheckTimeout(maxMinutes int) (bool, error) {
	if maxMinutes <= 0 {
		return false, nil
	}
	timedOut := false
	err := t.mutate(func(record *Record) error {
		if record.Status == StatusCompleted || record.Status == StatusFailed {
			return nil
		}
		if time.Since(record.StartedAt) <= time.Duration(maxMinutes)*time.Minute {
			return nil
		}
		timedOut = true
		record.Status = StatusFailed
		record.Error = fmt.Sprintf("session timed out after %d minutes", maxMinutes)
		return nil
	})
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	return timedOut, err
}

// ClearSession removes the status file. Clearing an absent session is fine.
func (t *Tracker) ClearSession() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ShouldUseBackgroundProcessing reports whether an estimated generation time
// warrants handing the work to the background worker instead of running it
// inline. thresholdMinutes <= 0 falls back to the built-in two minute cutoff.
func ShouldUseBackgroundProcessing(estimatedMinutes float64, thresholdMinutes int) bool {
	threshold := float64(thresholdMinutes)
	if threshold <= 0 {
		threshold = 2
	}
	return estimatedMinutes > threshold
}

func (t *Tracker) mutate(fn func(*Record) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.load()
	if err != nil {
		return err
	}
	if err := fn(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()
	return t.save(record)
}

func (t *Tracker) load() (*Record, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session status: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode session status: %w", err)
	}
	return &record, nil
}

func (t *Tracker) save(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("ensure session directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session status: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace session status: %w", err)
	}
	return nil
}

func findVariation(record *Record, id string) *Variation {
	for i := range record.Variations {
		if record.Variations[i].ID == id {
			return &record.Variations[i]
		}
	}
	return nil
}
