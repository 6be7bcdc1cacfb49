package imagegen_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/services/imagegen"
	"easel/internal/testsupport"
)

type stubExecutor struct {
	files []string
	err   error
	block bool
	calls int
	args  [][]string
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	s.calls++
	s.args = append(s.args, append([]string(nil), args...))
	if s.block {
		<-ctx.Done()
		return errors.New("signal: killed")
	}
	outputDir := argValue(args, "--output-dir")
	for _, name := range s.files {
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte("img"), 0o644); err != nil {
			return err
		}
	}
	return s.err
}

func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func sampleConfig() imagegen.GenerationConfig {
	return imagegen.GenerationConfig{
		Prompts: []queue.Prompt{
			{Name: "hero", Prompt: "a lighthouse at dusk", FilenamePrefix: "hero"},
		},
		ArticleInfo: imagegen.ArticleInfo{Title: "Lighthouses", EstimatedScenes: 1},
	}
}

func TestGenerateReturnsSortedImages(t *testing.T) {
	exec := &stubExecutor{files: []string{"section1.png", "hero.png", "notes.txt"}}
	client, err := imagegen.New("easel-generate", 5, imagegen.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	outputDir := t.TempDir()
	images, err := client.Generate(context.Background(), sampleConfig(), outputDir, 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %v", images)
	}
	if filepath.Base(images[0]) != "hero.png" || filepath.Base(images[1]) != "section1.png" {
		t.Fatalf("expected sorted image list, got %v", images)
	}

	// The config artifact must exist and round-trip.
	data, err := os.ReadFile(filepath.Join(outputDir, "config.json"))
	if err != nil {
		t.Fatalf("read config artifact: %v", err)
	}
	var decoded imagegen.GenerationConfig
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode config artifact: %v", err)
	}
	if decoded.ArticleInfo.Title != "Lighthouses" || len(decoded.Prompts) != 1 {
		t.Fatalf("unexpected config artifact: %#v", decoded)
	}
}

func TestGeneratePassesContractArguments(t *testing.T) {
	exec := &stubExecutor{files: []string{"hero.png"}}
	client, err := imagegen.New("easel-generate", 5, imagegen.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	outputDir := t.TempDir()
	if _, err := client.Generate(context.Background(), sampleConfig(), outputDir, 3); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected one invocation, got %d", exec.calls)
	}
	args := exec.args[0]
	if argValue(args, "--output-dir") != outputDir {
		t.Fatalf("expected output dir argument, got %v", args)
	}
	if argValue(args, "--variations") != "3" {
		t.Fatalf("expected variations argument, got %v", args)
	}
	if argValue(args, "--config") == "" {
		t.Fatalf("expected config argument, got %v", args)
	}
}

func TestGenerateErrorsWhenNoImagesProduced(t *testing.T) {
	client, err := imagegen.New("easel-generate", 5, imagegen.WithExecutor(&stubExecutor{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = client.Generate(context.Background(), sampleConfig(), t.TempDir(), 1)
	if err == nil {
		t.Fatal("expected error when generator produces no images")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "no images") {
		t.Fatalf("expected 'no images' error, got: %v", err)
	}
}

func TestGenerateWrapsExecutorFailure(t *testing.T) {
	client, err := imagegen.New("easel-generate", 5, imagegen.WithExecutor(&stubExecutor{err: errors.New("exit status 2")}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = client.Generate(context.Background(), sampleConfig(), t.TempDir(), 1)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
}

func TestGenerateTimeoutKillsSubprocess(t *testing.T) {
	client, err := imagegen.New("easel-generate", 1, imagegen.WithExecutor(&stubExecutor{block: true}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = client.Generate(context.Background(), sampleConfig(), t.TempDir(), 1)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	client, err := imagegen.New("easel-generate", 5, imagegen.WithExecutor(&stubExecutor{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if _, err := client.Generate(context.Background(), sampleConfig(), "", 1); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty output dir, got %v", err)
	}
	if _, err := client.Generate(context.Background(), imagegen.GenerationConfig{}, t.TempDir(), 1); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty prompts, got %v", err)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := imagegen.New("  ", 5); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateWithStubbedBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedGenerator("hero.png", "section1.png"))
	client, err := imagegen.New(cfg.Generator.Binary, 30)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	images, err := client.Generate(context.Background(), sampleConfig(), filepath.Join(t.TempDir(), "out"), 1)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images from stub binary, got %v", images)
	}
}

func TestGenerateCapturesStderrOnFailure(t *testing.T) {
	script := "#!/bin/sh\necho \"loading model\"\necho \"model not found\" >&2\nexit 1\n"
	binary := filepath.Join(t.TempDir(), "easel-generate")
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatalf("write failing stub: %v", err)
	}

	client, err := imagegen.New(binary, 30)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = client.Generate(context.Background(), sampleConfig(), filepath.Join(t.TempDir(), "out"), 1)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected stderr text in error, got: %v", err)
	}
	if strings.Contains(err.Error(), "loading model") {
		t.Fatalf("stdout must not leak into the error, got: %v", err)
	}
}

func TestEstimateMinutes(t *testing.T) {
	if got := imagegen.EstimateMinutes(0, 1); got != 0 {
		t.Fatalf("expected zero estimate for no prompts, got %f", got)
	}
	if got := imagegen.EstimateMinutes(4, 1); got != 6 {
		t.Fatalf("expected 6 minutes for 4 prompts, got %f", got)
	}
	if got := imagegen.EstimateMinutes(2, 2); got != 6 {
		t.Fatalf("expected variations to multiply, got %f", got)
	}
}
