package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/services/imagegen"
	"easel/internal/session"
)

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(logging.String(logging.FieldJobID, job.ID))
	payload := job.Payload
	start := time.Now()

	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithSessionID(ctx, payload.SessionID)
	if payload.SessionID != "" {
		logger = logger.With(logging.String(logging.FieldSessionID, payload.SessionID))
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal error: %v", r)
			logger.Error("job processing panicked", logging.Error(err))
			w.failJob(ctx, logger, job, err)
		}
	}()

	logger.Info("job started",
		logging.String(logging.FieldArticleID, payload.ArticleID),
		logging.String("article_title", payload.ArticleTitle),
		logging.Int("prompts", len(payload.Prompts)))
	if err := w.notifier.NotifyJobStarted(ctx, payload.ArticleTitle); err != nil {
		logger.Warn("start notification failed", logging.Error(err))
	}

	mirror := w.sessionMirror(logger, payload)
	if mirror {
		w.markSessionGenerating(logger, payload)
	}

	outputDir := payload.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(w.cfg.Paths.OutputDir, payload.ArticleID)
	}
	variations := payload.Variations
	if variations <= 0 {
		variations = w.cfg.Generator.Variations
	}

	genCfg := imagegen.GenerationConfig{
		Prompts: payload.Prompts,
		ArticleInfo: imagegen.ArticleInfo{
			Title:           payload.ArticleTitle,
			EstimatedScenes: len(payload.Prompts),
			Style:           payload.Style,
			Theme:           payload.Theme,
		},
	}
	images, err := w.generator.Generate(ctx, genCfg, outputDir, variations)
	if err != nil {
		terminal := w.failJob(ctx, logger, job, err)
		if mirror && terminal {
			w.markSessionVariationsFailed(logger, payload, err.Error())
		}
		return
	}
	if mirror {
		w.markSessionVariationsCompleted(logger, payload, images)
	}

	// Integration failure after successful generation still fails the job;
	// the dedupe check in the integrator makes the retry safe.
	integration, err := w.integrator.IntegrateImages(ctx, outputDir, payload.ArticleID)
	if err != nil {
		w.failJob(ctx, logger, job, err)
		return
	}

	names := make([]string, len(images))
	for i, image := range images {
		names[i] = filepath.Base(image)
	}
	result := queue.Result{
		"output_dir":  outputDir,
		"images":      names,
		"image_count": len(images),
	}
	if len(integration.Uploaded) > 0 {
		result["uploaded"] = integration.Uploaded
	}
	if len(integration.Skipped) > 0 {
		result["skipped_slots"] = integration.Skipped
	}

	completed, err := w.store.Complete(ctx, job.ID, result)
	if err != nil {
		w.setLastError(err)
		logger.Error("failed to record completion", logging.Error(err))
		return
	}
	if !completed {
		logger.Warn("job vanished from processing before completion")
		return
	}

	if mirror {
		if err := w.tracker.MarkCompleted(); err != nil {
			logger.Warn("session completion update failed", logging.Error(err))
		}
		if progress, err := w.tracker.Progress(); err == nil {
			if err := w.notifier.NotifySessionCompleted(ctx, progress.Completed, progress.Failed, time.Since(start)); err != nil {
				logger.Warn("session notification failed", logging.Error(err))
			}
		}
	}
	if err := w.notifier.NotifyJobCompleted(ctx, payload.ArticleTitle, len(images)); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}

	job.Status = queue.StatusCompleted
	job.Result = result
	w.setLastJob(job)
	logger.Info("job completed",
		logging.Int("images", len(images)),
		logging.Duration("job_duration", time.Since(start)))
}

// failJob records a failure through the queue's retry budget and reports
// whether the failure was terminal.
func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) bool {
	w.setLastError(cause)
	message := cause.Error()

	updated, err := w.store.Fail(ctx, job.ID, message)
	if err != nil {
		logger.Error("failed to record job failure",
			logging.Error(err),
			logging.String("failure_message", message))
		return false
	}
	if updated == nil {
		logger.Warn("job vanished from processing before failure",
			logging.String("failure_message", message))
		return false
	}

	willRetry := updated.Status == queue.StatusPending
	logger.Error("job failed",
		logging.Error(cause),
		logging.Int("retry_count", updated.RetryCount),
		logging.Int("max_retries", updated.MaxRetries),
		logging.Bool("will_retry", willRetry))
	if err := w.notifier.NotifyJobFailed(ctx, job.Payload.ArticleTitle, message, willRetry); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}

	// The session only fails once the retry budget is spent; a retried job
	// keeps the session in the generating state.
	if !willRetry && w.sessionMirror(logger, job.Payload) {
		if err := w.tracker.MarkFailed(message); err != nil {
			logger.Warn("session failure update failed", logging.Error(err))
		}
		if err := w.notifier.NotifySessionFailed(ctx, message); err != nil {
			logger.Warn("session notification failed", logging.Error(err))
		}
	}
	w.setLastJob(updated)
	return !willRetry
}

// sessionMirror reports whether session updates should be written for this
// payload: the payload names a session and it is the one currently tracked.
func (w *Worker) sessionMirror(logger *slog.Logger, payload queue.Payload) bool {
	if payload.SessionID == "" {
		return false
	}
	record, err := w.tracker.Current()
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			logger.Warn("failed to read session record", logging.Error(err))
		}
		return false
	}
	return record.SessionID == payload.SessionID
}

func (w *Worker) markSessionGenerating(logger *slog.Logger, payload queue.Payload) {
	if err := w.tracker.MarkGenerating(); err != nil {
		logger.Warn("session update failed", logging.Error(err))
		return
	}
	for _, prompt := range payload.Prompts {
		if err := w.tracker.MarkVariationGenerating(prompt.Name); err != nil {
			// The slot may not exist yet when the job came from a flag file.
			if addErr := w.tracker.AddVariation(prompt.Name, -1, ""); addErr != nil {
				logger.Warn("session variation update failed", logging.Error(addErr))
				continue
			}
			if err := w.tracker.MarkVariationGenerating(prompt.Name); err != nil {
				logger.Warn("session variation update failed", logging.Error(err))
			}
		}
	}
}

func (w *Worker) markSessionVariationsCompleted(logger *slog.Logger, payload queue.Payload, images []string) {
	for _, prompt := range payload.Prompts {
		filename := matchImage(prompt, images)
		if err := w.tracker.MarkVariationCompleted(prompt.Name, filename); err != nil {
			logger.Warn("session variation update failed", logging.Error(err))
		}
	}
}

func (w *Worker) markSessionVariationsFailed(logger *slog.Logger, payload queue.Payload, message string) {
	for _, prompt := range payload.Prompts {
		if err := w.tracker.MarkVariationFailed(prompt.Name, message); err != nil {
			logger.Warn("session variation update failed", logging.Error(err))
		}
	}
}

// matchImage picks the produced file belonging to a prompt by filename
// prefix, falling back to the prompt name.
func matchImage(prompt queue.Prompt, images []string) string {
	prefix := prompt.FilenamePrefix
	if prefix == "" {
		prefix = prompt.Name
	}
	for _, image := range images {
		base := filepath.Base(image)
		if prefix != "" && len(base) >= len(prefix) && base[:len(prefix)] == prefix {
			return base
		}
	}
	return ""
}

func (w *Worker) checkSessionTimeout(ctx context.Context) {
	timedOut, err := w.tracker.CheckTimeout(w.cfg.Workflow.SessionTimeoutMinutes)
	if err != nil {
		w.logger.Warn("session timeout check failed", logging.Error(err))
		return
	}
	if timedOut {
		w.logger.Warn("session timed out",
			logging.Int("timeout_minutes", w.cfg.Workflow.SessionTimeoutMinutes))
		if err := w.notifier.NotifySessionFailed(ctx, "session timed out"); err != nil {
			w.logger.Warn("session notification failed", logging.Error(err))
		}
	}
}

// sweepFlags converts "images pending" flag files into queue jobs.
func (w *Worker) sweepFlags(ctx context.Context) {
	flagged, err := w.flagStore.List()
	if err != nil {
		w.logger.Warn("flag sweep failed", logging.Error(err))
		return
	}
	for _, flag := range flagged {
		logger := w.logger.With(logging.String(logging.FieldArticleID, flag.ArticleID))
		if len(flag.Payload.Prompts) == 0 {
			logger.Warn("flag carries no prompts, discarding")
			if err := w.flagStore.Clear(flag.ArticleID); err != nil {
				logger.Warn("failed to clear flag", logging.Error(err))
			}
			continue
		}
		job, err := w.store.Enqueue(ctx, queue.JobTypeImageGeneration, flag.Payload, w.cfg.Workflow.MaxRetries)
		if err != nil {
			logger.Error("failed to enqueue flagged article", logging.Error(err))
			continue
		}
		if err := w.flagStore.Clear(flag.ArticleID); err != nil {
			logger.Warn("failed to clear flag after enqueue", logging.Error(err))
		}
		logger.Info("flagged article queued", logging.String(logging.FieldJobID, job.ID))
	}
}
