package testsupport

import (
	"context"
	"testing"

	"easel/internal/config"
	"easel/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueJob inserts a pending job for tests using the provided store.
func EnqueueJob(t testing.TB, store *queue.Store, articleID string) *queue.Job {
	t.Helper()

	payload := queue.Payload{
		ArticleID:    articleID,
		ArticleTitle: "Article " + articleID,
		Prompts: []queue.Prompt{
			{Name: "hero", Prompt: "hero image", FilenamePrefix: "hero"},
		},
	}
	job, err := store.Enqueue(context.Background(), queue.JobTypeImageGeneration, payload, 0)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
