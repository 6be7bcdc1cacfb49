package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"easel/internal/config"
	"easel/internal/queue"
)

// Flag marks an article whose images are pending generation.
type Flag struct {
	ArticleID string        `json:"article_id"`
	Payload   queue.Payload `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store reads and writes flag files in the configured flags directory.
type Store struct {
	dir string
}

// NewStore builds a flag store rooted at the configured flags directory.
func NewStore(cfg *config.Config) *Store {
	return &Store{dir: cfg.Paths.FlagsDir}
}

// NewStoreAt builds a flag store for an explicit directory.
func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Set writes (or replaces) the flag for an article.
func (s *Store) Set(articleID string, payload queue.Payload) error {
	articleID = strings.TrimSpace(articleID)
	if articleID == "" {
		return errors.New("article id is required")
	}
	payload.ArticleID = articleID

	flag := Flag{
		ArticleID: articleID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(flag, "", "  ")
	if err != nil {
		return fmt.Errorf("encode flag: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure flags directory: %w", err)
	}
	path := s.pathFor(articleID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write flag: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace flag: %w", err)
	}
	return nil
}

// Get returns the flag for an article, or nil when none is set.
func (s *Store) Get(articleID string) (*Flag, error) {
	data, err := os.ReadFile(s.pathFor(articleID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read flag: %w", err)
	}
	var flag Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		return nil, fmt.Errorf("decode flag %s: %w", articleID, err)
	}
	return &flag, nil
}

// List returns all flags ordered by creation time, oldest first.
func (s *Store) List() ([]*Flag, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read flags directory: %w", err)
	}

	var flags []*Flag
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read flag %s: %w", entry.Name(), err)
		}
		var flag Flag
		if err := json.Unmarshal(data, &flag); err != nil {
			return nil, fmt.Errorf("decode flag %s: %w", entry.Name(), err)
		}
		flags = append(flags, &flag)
	}
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].CreatedAt.Equal(flags[j].CreatedAt) {
			return flags[i].ArticleID < flags[j].ArticleID
		}
		return flags[i].CreatedAt.Before(flags[j].CreatedAt)
	})
	return flags, nil
}

// Clear removes the flag for an article. Clearing an absent flag is fine.
func (s *Store) Clear(articleID string) error {
	if err := os.Remove(s.pathFor(articleID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear flag: %w", err)
	}
	return nil
}

func (s *Store) pathFor(articleID string) string {
	return filepath.Join(s.dir, sanitizeID(articleID)+".json")
}

// sanitizeID keeps flag filenames flat regardless of the article id contents.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
