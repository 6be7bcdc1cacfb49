package imagegen

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"easel/internal/queue"
	"easel/internal/services"
)

// ArticleInfo carries article context into the generator config artifact.
type ArticleInfo struct {
	Title           string `json:"title"`
	EstimatedScenes int    `json:"estimated_scenes"`
	Style           string `json:"style,omitempty"`
	Theme           string `json:"theme,omitempty"`
}

// GenerationConfig is the JSON document handed to the generator binary.
type GenerationConfig struct {
	Prompts     []queue.Prompt `json:"prompts"`
	ArticleInfo ArticleInfo    `json:"article_info"`
}

// Generator produces image files for a prompt set.
type Generator interface {
	Generate(ctx context.Context, genCfg GenerationConfig, outputDir string, variations int) ([]string, error)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithOutputSink forwards generator output lines, usually into a logger.
func WithOutputSink(sink func(string)) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// Client invokes the generator CLI.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
	sink    func(string)
}

// New constructs a generator client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "imagegen", "new", "generator binary required", nil)
	}
	client := &Client{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Generate writes the config artifact, runs the generator, and returns the
// sorted image paths it produced. The configured timeout is a hard kill.
func (c *Client) Generate(ctx context.Context, genCfg GenerationConfig, outputDir string, variations int) ([]string, error) {
	if outputDir == "" {
		return nil, services.Wrap(services.ErrValidation, "imagegen", "generate", "output directory required", nil)
	}
	if len(genCfg.Prompts) == 0 {
		return nil, services.Wrap(services.ErrValidation, "imagegen", "generate", "at least one prompt required", nil)
	}
	if variations <= 0 {
		variations = 1
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	configPath, err := WriteConfigArtifact(genCfg, outputDir)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"--config", configPath,
		"--output-dir", outputDir,
		"--variations", strconv.Itoa(variations),
	}
	if err := c.exec.Run(runCtx, c.binary, args, c.sink); err != nil {
		if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "imagegen", "generate",
				fmt.Sprintf("generator exceeded %s and was killed", c.timeout), err)
		}
		return nil, services.Wrap(services.ErrExternalTool, "imagegen", "generate", "generator failed", err)
	}

	images, err := EnumerateImages(outputDir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "imagegen", "generate",
			"generator exited 0 but produced no images", nil)
	}
	return images, nil
}

// WriteConfigArtifact persists the generator config JSON next to the outputs
// and returns its path.
func WriteConfigArtifact(genCfg GenerationConfig, outputDir string) (string, error) {
	data, err := json.MarshalIndent(genCfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode generation config: %w", err)
	}
	path := filepath.Join(outputDir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write generation config: %w", err)
	}
	return path, nil
}

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// EnumerateImages lists image files in a directory, sorted by name.
func EnumerateImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("inspect generator outputs: %w", err)
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}
		images = append(images, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(images)
	return images, nil
}

// EstimateMinutes predicts wall-clock generation time for a prompt set.
// Used by the CLI to decide between inline and background processing.
func EstimateMinutes(promptCount, variations int) float64 {
	if promptCount <= 0 {
		return 0
	}
	if variations <= 0 {
		variations = 1
	}
	const minutesPerImage = 1.5
	return float64(promptCount*variations) * minutesPerImage
}

type commandExecutor struct{}

// stderrTailLimit bounds how many trailing stderr lines are folded into a
// failure error, so the queue records why the generator died.
const stderrTailLimit = 20

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once
	var stderrTail []string

	scan := func(r io.Reader, keepTail bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if keepTail {
				stderrTail = append(stderrTail, line)
				if len(stderrTail) > stderrTailLimit {
					stderrTail = stderrTail[1:]
				}
			}
			if onOutput != nil {
				onOutput(line)
			} else {
				fmt.Fprintln(os.Stderr, line)
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout, false)
	go scan(stderr, true)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		if detail := strings.TrimSpace(strings.Join(stderrTail, "; ")); detail != "" {
			return fmt.Errorf("wait command: %w: %s", err, detail)
		}
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
