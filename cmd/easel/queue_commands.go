package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"easel/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		title      string
		style      string
		theme      string
		outputDir  string
		variations int
		maxRetries int
		prompts    []string
	)

	cmd := &cobra.Command{
		Use:   "add <article-id>",
		Short: "Queue an image generation job for an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			articleID := strings.TrimSpace(args[0])
			if articleID == "" {
				return fmt.Errorf("article id is required")
			}
			if len(prompts) == 0 {
				return fmt.Errorf("at least one --prompt is required")
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

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.Enqueue(cmd.Context(), queue.JobTypeImageGeneration, payload, maxRetries)
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s for article %s (%d prompt(s))\n", job.ID, articleID, len(payload.Prompts))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Article title used in notifications")
	cmd.Flags().StringVar(&style, "style", "", "Image style hint passed to the generator")
	cmd.Flags().StringVar(&theme, "theme", "", "Theme hint passed to the generator")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Override output directory for generated images")
	cmd.Flags().IntVar(&variations, "variations", 0, "Variations per prompt (0 uses the configured default)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget (0 uses the default)")
	cmd.Flags().StringArrayVar(&prompts, "prompt", nil, "Prompt in name=text form, repeatable (e.g. --prompt hero=\"a lighthouse at dawn\")")

	return cmd
}

// parsePromptSpec splits a name=text flag value into a prompt. The name
// doubles as the filename prefix so generated files land in known slots.
func parsePromptSpec(spec string) (queue.Prompt, error) {
	name, text, found := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if !found || name == "" || text == "" {
		return queue.Prompt{}, fmt.Errorf("invalid prompt %q: expected name=text", spec)
	}
	return queue.Prompt{Name: name, Prompt: text, FilenamePrefix: name}, nil
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var jobs []*queue.Job
			if statusFilter != "" {
				status, ok := queue.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				jobs, err = store.List(cmd.Context(), status)
			} else {
				jobs, err = store.ListAll(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Payload.ArticleID,
					string(job.Status),
					fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
					job.CreatedAt.Local().Format(time.DateTime),
					truncate(job.ErrorMessage, 48),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Article", "Status", "Retries", "Created", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-status job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("read queue stats: %w", err)
			}

			total := 0
			rows := make([][]string, 0, len(stats)+1)
			for _, status := range queue.AllStatuses() {
				count := stats[status]
				total += count
				rows = append(rows, []string{titleCaser.String(string(status)), fmt.Sprintf("%d", count)})
			}
			rows = append(rows, []string{"Total", fmt.Sprintf("%d", total)})

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Status", "Jobs"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return fmt.Errorf("retry failed jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", count)
			return nil
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Remove(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("remove job: %w", err)
			}
			if !removed {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var (
		completedOnly bool
		failedOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var (
				count int64
				what  string
			)
			switch {
			case completedOnly && failedOnly:
				return fmt.Errorf("--completed and --failed are mutually exclusive")
			case completedOnly:
				count, err = store.ClearCompleted(cmd.Context())
				what = "completed "
			case failedOnly:
				count, err = store.ClearFailed(cmd.Context())
				what = "failed "
			default:
				count, err = store.Clear(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("clear queue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %sjob(s)\n", count, what)
			return nil
		},
	}

	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Clear only completed jobs")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Clear only failed jobs")
	return cmd
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
