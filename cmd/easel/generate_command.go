package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"easel/internal/config"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services/cms"
	"easel/internal/services/imagegen"
	"easel/internal/session"
	"easel/internal/workerctl"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		title      string
		style      string
		theme      string
		outputDir  string
		documentID string
		variations int
		background bool
		prompts    []string
	)

	cmd := &cobra.Command{
		Use:   "generate <article-id>",
		Short: "Generate images for an article, inline or via the background worker",
		Long: `Generate runs the image generator for an article. Short sessions run
inline; when the estimated duration crosses the configured threshold (or
--background is set) the job is queued and the daemon started instead.
An inline run that overruns the threshold hands its remaining prompts to
the background worker mid-flight.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			articleID := strings.TrimSpace(args[0])
			if articleID == "" {
				return fmt.Errorf("article id is required")
			}
			if len(prompts) == 0 {
				return fmt.Errorf("at least one --prompt is required")
			}

			cfg, err := ctx.config()
			if err != nil {
				return err
			}

			payload := queue.Payload{
				ArticleID:    articleID,
				ArticleTitle: title,
				Style:        style,
				Theme:        theme,
				OutputDir:    outputDir,
				Variations:   variations,
			}
			for _, spec := range prompts {
				prompt, err := parsePromptSpec(spec)
				if err != nil {
					return err
				}
				payload.Prompts = append(payload.Prompts, prompt)
			}

			return runGenerate(cmd, ctx, cfg, payload, documentID, background)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Article title used in notifications and the generator config")
	cmd.Flags().StringVar(&style, "style", "", "Image style hint passed to the generator")
	cmd.Flags().StringVar(&theme, "theme", "", "Theme hint passed to the generator")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Override output directory for generated images")
	cmd.Flags().StringVar(&documentID, "document", "", "CMS document id to attach images to (defaults to the article id)")
	cmd.Flags().IntVar(&variations, "variations", 0, "Variations per prompt (0 uses the configured default)")
	cmd.Flags().BoolVar(&background, "background", false, "Queue the job for the daemon instead of running inline")
	cmd.Flags().StringArrayVar(&prompts, "prompt", nil, "Prompt in name=text form, repeatable")

	return cmd
}

func runGenerate(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, payload queue.Payload, documentID string, background bool) error {
	out := cmd.OutOrStdout()

	variations := payload.Variations
	if variations <= 0 {
		variations = cfg.Generator.Variations
	}
	if variations <= 0 {
		variations = 1
	}
	payload.Variations = variations

	estimated := imagegen.EstimateMinutes(len(payload.Prompts), variations)
	useBackground := background || session.ShouldUseBackgroundProcessing(estimated, cfg.Workflow.BackgroundThresholdMinutes)

	tracker := session.NewTracker(cfg)
	sessionID := uuid.NewString()
	payload.SessionID = sessionID

	if _, err := tracker.StartSession(len(payload.Prompts), sessionID); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	for i, prompt := range payload.Prompts {
		if err := tracker.AddVariation(prompt.Name, i, ""); err != nil {
			return fmt.Errorf("register variation %s: %w", prompt.Name, err)
		}
	}

	if useBackground {
		fmt.Fprintf(out, "Estimated %.1f minutes for %d image(s), handing off to the background worker\n",
			estimated, len(payload.Prompts)*variations)
		return enqueueForDaemon(cmd.Context(), ctx, cfg, payload, out)
	}

	return runInlineGeneration(cmd.Context(), ctx, cfg, tracker, payload, documentID, out)
}

// enqueueForDaemon persists the job and makes sure the daemon is up to pick
// it up.
func enqueueForDaemon(cmdCtx context.Context, ctx *commandContext, cfg *config.Config, payload queue.Payload, out io.Writer) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	job, err := store.Enqueue(cmdCtx, queue.JobTypeImageGeneration, payload, cfg.Workflow.MaxRetries)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	fmt.Fprintf(out, "Queued job %s for article %s\n", job.ID, payload.ArticleID)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	result, err := workerctl.EnsureStarted(workerctl.PIDFilePath(cfg), func() error {
		return workerctl.Launch(exe, ctx.configPath())
	}, startWaitTimeout)
	if err != nil {
		return fmt.Errorf("job queued but daemon failed to start: %w", err)
	}
	if result.State == workerctl.StartStateStarted {
		fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
	}
	fmt.Fprintf(out, "Track progress with: easel session show\n")
	return nil
}

// runInlineGeneration processes prompts one at a time so the elapsed time can
// be checked between variations. When the threshold is crossed with prompts
// still pending, the remainder is handed to the background worker under the
// same session.
func runInlineGeneration(cmdCtx context.Context, ctx *commandContext, cfg *config.Config, tracker *session.Tracker, payload queue.Payload, documentID string, out io.Writer) error {
	generator, err := imagegen.New(cfg.GeneratorBinary(), cfg.Generator.TimeoutSeconds)
	if err != nil {
		return err
	}

	outputDir := payload.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(cfg.Paths.OutputDir, payload.ArticleID)
	}

	articleInfo := imagegen.ArticleInfo{
		Title:           payload.ArticleTitle,
		EstimatedScenes: len(payload.Prompts),
		Style:           payload.Style,
		Theme:           payload.Theme,
	}

	if err := tracker.MarkGenerating(); err != nil {
		return fmt.Errorf("mark session generating: %w", err)
	}

	start := time.Now()
	for i, prompt := range payload.Prompts {
		if err := cmdCtx.Err(); err != nil {
			_ = tracker.MarkFailed("generation interrupted")
			return err
		}

		if i > 0 && checkTimeout(start, cfg.Workflow.BackgroundThresholdMinutes) {
			remaining := payload
			remaining.Prompts = payload.Prompts[i:]
			fmt.Fprintf(out, "Inline run exceeded %d minute(s), handing %d remaining prompt(s) to the background worker\n",
				cfg.Workflow.BackgroundThresholdMinutes, len(remaining.Prompts))
			return enqueueForDaemon(cmdCtx, ctx, cfg, remaining, out)
		}

		fmt.Fprintf(out, "Generating %s (%d/%d)...\n", positionLabel(prompt.Name), i+1, len(payload.Prompts))
		if err := tracker.MarkVariationGenerating(prompt.Name); err != nil {
			return fmt.Errorf("mark variation generating: %w", err)
		}

		genCfg := imagegen.GenerationConfig{
			Prompts:     []queue.Prompt{prompt},
			ArticleInfo: articleInfo,
		}
		images, err := generator.Generate(cmdCtx, genCfg, outputDir, payload.Variations)
		if err != nil {
			_ = tracker.MarkVariationFailed(prompt.Name, err.Error())
			_ = tracker.MarkFailed(err.Error())
			return fmt.Errorf("generate %s: %w", prompt.Name, err)
		}

		filename := matchGeneratedImage(images, prompt)
		if err := tracker.MarkVariationCompleted(prompt.Name, filename); err != nil {
			return fmt.Errorf("mark variation completed: %w", err)
		}
	}

	images, err := imagegen.EnumerateImages(outputDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Generated %d image(s) in %s\n", len(images), outputDir)

	if documentID == "" {
		documentID = payload.ArticleID
	}
	integrator, err := cms.NewIntegrator(cfg, logging.NewNop())
	if err != nil {
		return err
	}
	if integrator.Enabled() {
		result, err := integrator.IntegrateImages(cmdCtx, outputDir, documentID)
		if err != nil {
			_ = tracker.MarkFailed(err.Error())
			return fmt.Errorf("integrate images: %w", err)
		}
		fmt.Fprintf(out, "Uploaded %d image(s) to the CMS", len(result.Uploaded))
		if len(result.Skipped) > 0 {
			fmt.Fprintf(out, " (skipped %d populated slot(s))", len(result.Skipped))
		}
		fmt.Fprintln(out)
	}

	if err := tracker.MarkCompleted(); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	fmt.Fprintf(out, "Session %s completed in %s\n", payload.SessionID, time.Since(start).Round(time.Second))
	return nil
}

// checkTimeout reports whether an inline run has outlived the background
// threshold.
func checkTimeout(start time.Time, thresholdMinutes int) bool {
	if thresholdMinutes <= 0 {
		thresholdMinutes = 2
	}
	return time.Since(start) >= time.Duration(thresholdMinutes)*time.Minute
}

// matchGeneratedImage picks the produced file belonging to a prompt, falling
// back to the first image when no name matches.
func matchGeneratedImage(images []string, prompt queue.Prompt) string {
	prefix := prompt.FilenamePrefix
	if prefix == "" {
		prefix = prompt.Name
	}
	for _, image := range images {
		if strings.HasPrefix(filepath.Base(image), prefix) {
			return filepath.Base(image)
		}
	}
	if len(images) > 0 {
		return filepath.Base(images[0])
	}
	return ""
}
