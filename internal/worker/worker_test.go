package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"easel/internal/flags"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services/cms"
	"easel/internal/services/imagegen"
	"easel/internal/session"
	"easel/internal/testsupport"
	"easel/internal/worker"
)

type generatorFunc func(ctx context.Context, genCfg imagegen.GenerationConfig, outputDir string, variations int) ([]string, error)

func (f generatorFunc) Generate(ctx context.Context, genCfg imagegen.GenerationConfig, outputDir string, variations int) ([]string, error) {
	return f(ctx, genCfg, outputDir, variations)
}

func producingGenerator(t *testing.T, filenames ...string) generatorFunc {
	return func(ctx context.Context, genCfg imagegen.GenerationConfig, outputDir string, variations int) ([]string, error) {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, err
		}
		images := make([]string, 0, len(filenames))
		for _, name := range filenames {
			path := filepath.Join(outputDir, name)
			if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
				return nil, err
			}
			images = append(images, path)
		}
		return images, nil
	}
}

type fakeIntegrator struct {
	mu     sync.Mutex
	calls  int
	result *cms.Result
	err    error
}

func (f *fakeIntegrator) Enabled() bool { return true }

func (f *fakeIntegrator) IntegrateImages(ctx context.Context, outputDir, documentID string) (*cms.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &cms.Result{Uploaded: map[string]string{}}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func jobInStatus(t *testing.T, store *queue.Store, id string, status queue.Status) func() bool {
	t.Helper()
	return func() bool {
		job, err := store.GetByID(context.Background(), id)
		if err != nil || job == nil {
			return false
		}
		return job.Status == status
	}
}

func TestWorkerProcessesJobEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	integrator := &fakeIntegrator{result: &cms.Result{Uploaded: map[string]string{"heroImage": "image-1"}}}

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(producingGenerator(t, "hero.png")),
		worker.WithIntegrator(integrator))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	job := testsupport.EnqueueJob(t, store, "article-1")
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "job completion", jobInStatus(t, store, job.ID, queue.StatusCompleted))

	completed, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if completed.Result["image_count"] != int64(1) && completed.Result["image_count"] != float64(1) {
		t.Fatalf("expected image_count 1 in result, got %#v", completed.Result)
	}
	if completed.CompletedAt == nil {
		t.Fatal("expected completed_at stamped")
	}
	integrator.mu.Lock()
	calls := integrator.calls
	integrator.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one integration call, got %d", calls)
	}
}

func TestWorkerRecordsEveryFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var calls int
	var mu sync.Mutex
	failing := generatorFunc(func(ctx context.Context, genCfg imagegen.GenerationConfig, outputDir string, variations int) ([]string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("generator blew up")
		}
		return nil, errors.New("generator exit status 2")
	})

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(failing),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	payload := queue.Payload{
		ArticleID: "article-1",
		Prompts:   []queue.Prompt{{Name: "hero", Prompt: "hero image"}},
	}
	job, err := store.Enqueue(context.Background(), queue.JobTypeImageGeneration, payload, 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	// First attempt panics, second returns an error; both are recorded via
	// Fail and the loop keeps running until the budget is spent.
	waitFor(t, "terminal failure", jobInStatus(t, store, job.ID, queue.StatusFailed))

	failed, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", failed.RetryCount)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
	if failed.CompletedAt == nil {
		t.Fatal("expected completed_at stamped on terminal failure")
	}

	// The loop survived the panic: a fresh job still gets processed.
	next := testsupport.EnqueueJob(t, store, "article-2")
	waitFor(t, "next job reaches a terminal state", func() bool {
		job, err := store.GetByID(context.Background(), next.ID)
		return err == nil && job != nil && job.IsTerminal()
	})
}

func TestWorkerRecordsGeneratorStderr(t *testing.T) {
	script := "#!/bin/sh\necho \"model not found\" >&2\nexit 1\n"
	binary := filepath.Join(t.TempDir(), "easel-generate")
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatalf("write failing stub: %v", err)
	}

	cfg := testsupport.NewConfig(t, testsupport.WithGeneratorBinary(binary))
	store := testsupport.MustOpenStore(t, cfg)

	// No WithGenerator: the worker builds the real subprocess client.
	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	payload := queue.Payload{
		ArticleID: "article-1",
		Prompts:   []queue.Prompt{{Name: "hero", Prompt: "hero image"}},
	}
	job, err := store.Enqueue(context.Background(), queue.JobTypeImageGeneration, payload, 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "terminal failure", jobInStatus(t, store, job.ID, queue.StatusFailed))

	failed, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !strings.Contains(failed.ErrorMessage, "model not found") {
		t.Fatalf("expected generator stderr in recorded error, got %q", failed.ErrorMessage)
	}
}

func TestWorkerFailsJobWhenIntegrationFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	integrator := &fakeIntegrator{err: errors.New("cms returned 500")}

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(producingGenerator(t, "hero.png")),
		worker.WithIntegrator(integrator))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	payload := queue.Payload{
		ArticleID: "article-1",
		Prompts:   []queue.Prompt{{Name: "hero", Prompt: "hero image"}},
	}
	job, err := store.Enqueue(context.Background(), queue.JobTypeImageGeneration, payload, 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "terminal failure", jobInStatus(t, store, job.ID, queue.StatusFailed))

	failed, _ := store.GetByID(context.Background(), job.ID)
	if failed.ErrorMessage == "" {
		t.Fatal("expected integration error recorded on job")
	}
}

func TestWorkerSweepsFlagFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	flagStore := flags.NewStore(cfg)

	payload := queue.Payload{
		ArticleTitle: "Lighthouses",
		Prompts:      []queue.Prompt{{Name: "hero", Prompt: "a lighthouse"}},
	}
	if err := flagStore.Set("article-7", payload); err != nil {
		t.Fatalf("flags.Set: %v", err)
	}

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(producingGenerator(t, "hero.png")),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "flagged article processed", func() bool {
		jobs, err := store.List(context.Background(), queue.StatusCompleted)
		if err != nil {
			return false
		}
		for _, job := range jobs {
			if job.Payload.ArticleID == "article-7" {
				return true
			}
		}
		return false
	})

	flag, err := flagStore.Get("article-7")
	if err != nil {
		t.Fatalf("flags.Get: %v", err)
	}
	if flag != nil {
		t.Fatal("expected flag cleared after enqueue")
	}
}

func TestWorkerMirrorsSessionProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := session.NewTracker(cfg)

	record, err := tracker.StartSession(1, "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := tracker.AddVariation("hero", 0, ""); err != nil {
		t.Fatalf("AddVariation: %v", err)
	}

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(producingGenerator(t, "hero.png")),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	payload := queue.Payload{
		ArticleID: "article-1",
		SessionID: record.SessionID,
		Prompts:   []queue.Prompt{{Name: "hero", Prompt: "hero image", FilenamePrefix: "hero"}},
	}
	job, err := store.Enqueue(context.Background(), queue.JobTypeImageGeneration, payload, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "job completion", jobInStatus(t, store, job.ID, queue.StatusCompleted))
	waitFor(t, "session completion", func() bool {
		current, err := tracker.Current()
		return err == nil && current.Status == session.StatusCompleted
	})

	current, err := tracker.Current()
	if err != nil {
		t.Fatalf("tracker.Current: %v", err)
	}
	if current.Completed != 1 {
		t.Fatalf("expected one completed variation, got %d", current.Completed)
	}
	if current.Variations[0].Filename != "hero.png" {
		t.Fatalf("expected filename recorded, got %q", current.Variations[0].Filename)
	}
}

func TestWorkerMarksSessionFailedOnlyWhenTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tracker := session.NewTracker(cfg)

	record, err := tracker.StartSession(1, "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := tracker.AddVariation("hero", 0, ""); err != nil {
		t.Fatalf("AddVariation: %v", err)
	}

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(generatorFunc(func(ctx context.Context, genCfg imagegen.GenerationConfig, outputDir string, variations int) ([]string, error) {
			return nil, errors.New("generator exit status 2")
		})),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	payload := queue.Payload{
		ArticleID: "article-1",
		SessionID: record.SessionID,
		Prompts:   []queue.Prompt{{Name: "hero", Prompt: "hero image"}},
	}
	job, err := store.Enqueue(context.Background(), queue.JobTypeImageGeneration, payload, 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "terminal failure", jobInStatus(t, store, job.ID, queue.StatusFailed))
	waitFor(t, "session failure", func() bool {
		current, err := tracker.Current()
		return err == nil && current.Status == session.StatusFailed
	})
}

func TestWorkerStopWaitsForInflightJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gated := generatorFunc(func(ctx context.Context, genCfg imagegen.GenerationConfig, outputDir string, variations int) ([]string, error) {
		once.Do(func() { close(started) })
		<-release
		return producingGenerator(t, "hero.png")(ctx, genCfg, outputDir, variations)
	})

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(gated),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	job := testsupport.EnqueueJob(t, store, "article-1")
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker.Start: %v", err)
	}

	<-started
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still in flight")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return after the in-flight job finished")
	}

	waitFor(t, "in-flight job completion", jobInStatus(t, store, job.ID, queue.StatusCompleted))
}

func TestWorkerStatusReportsQueueStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	w, err := worker.New(cfg, store, logging.NewNop(),
		worker.WithGenerator(producingGenerator(t, "hero.png")),
		worker.WithIntegrator(&fakeIntegrator{}))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	testsupport.EnqueueJob(t, store, "article-1")
	summary := w.Status(context.Background())
	if summary.Running {
		t.Fatal("expected worker not running before Start")
	}
	if summary.QueueStats[queue.StatusPending] != 1 {
		t.Fatalf("expected one pending job in stats, got %v", summary.QueueStats)
	}
}
