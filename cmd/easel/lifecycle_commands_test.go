package main

import (
	"context"
	"testing"

	"easel/internal/queue"
)

func TestStatusWithDaemonDown(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	payload := queue.Payload{ArticleID: "article-1", Prompts: []queue.Prompt{{Name: "hero", Prompt: "p"}}}
	if _, err := env.store.Enqueue(ctx, queue.JobTypeImageGeneration, payload, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "1 job(s)")
	requireContains(t, out, "Pending")
}

func TestStopWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"stop"}, env.configPath); err == nil {
		t.Fatal("expected error when no daemon is running")
	}
}
