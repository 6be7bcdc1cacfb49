package flags_test

import (
	"testing"

	"easel/internal/flags"
	"easel/internal/queue"
	"easel/internal/testsupport"
)

func TestSetGetClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := flags.NewStore(cfg)

	payload := queue.Payload{
		ArticleTitle: "How Queues Work",
		Prompts:      []queue.Prompt{{Name: "hero", Prompt: "a queue"}},
	}
	if err := store.Set("article-1", payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	flag, err := store.Get("article-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if flag == nil {
		t.Fatal("expected flag")
	}
	if flag.Payload.ArticleID != "article-1" {
		t.Fatalf("expected payload article id stamped, got %q", flag.Payload.ArticleID)
	}
	if flag.Payload.ArticleTitle != "How Queues Work" {
		t.Fatalf("unexpected payload: %#v", flag.Payload)
	}

	if err := store.Clear("article-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	flag, err = store.Get("article-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if flag != nil {
		t.Fatalf("expected flag removed, got %#v", flag)
	}

	if err := store.Clear("article-1"); err != nil {
		t.Fatalf("Clear of absent flag failed: %v", err)
	}
}

func TestSetRequiresArticleID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := flags.NewStore(cfg)

	if err := store.Set("  ", queue.Payload{}); err == nil {
		t.Fatal("expected error for empty article id")
	}
}

func TestListOrdersByCreationTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := flags.NewStore(cfg)

	for _, id := range []string{"b-article", "a-article"} {
		if err := store.Set(id, queue.Payload{}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	listed, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 flags, got %d", len(listed))
	}
}

func TestListEmptyDirectory(t *testing.T) {
	store := flags.NewStoreAt(t.TempDir() + "/missing")

	listed, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no flags, got %d", len(listed))
	}
}

func TestSanitizedFilenames(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := flags.NewStore(cfg)

	if err := store.Set("articles/2026/08", queue.Payload{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	flag, err := store.Get("articles/2026/08")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if flag == nil || flag.ArticleID != "articles/2026/08" {
		t.Fatalf("expected flag round-trip with original id, got %#v", flag)
	}
}
