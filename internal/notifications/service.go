package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"easel/internal/config"
)

const userAgent = "Easel-Go/0.1.0"

// Service defines the notification surface exposed to the worker and CLI.
type Service interface {
	NotifyJobQueued(ctx context.Context, articleTitle string, position int) error
	NotifyJobStarted(ctx context.Context, articleTitle string) error
	NotifyJobCompleted(ctx context.Context, articleTitle string, images int) error
	NotifyJobFailed(ctx context.Context, articleTitle, reason string, willRetry bool) error
	NotifySessionCompleted(ctx context.Context, completed, failed int, duration time.Duration) error
	NotifySessionFailed(ctx context.Context, reason string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		jobs:     cfg.Notifications.Jobs,
		sessions: cfg.Notifications.Sessions,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	jobs     bool
	sessions bool
	errors   bool
}

func (n *ntfyService) NotifyJobQueued(ctx context.Context, articleTitle string, position int) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:   "Easel - Job Queued",
		message: fmt.Sprintf("Queued image generation for %s (position %d)", strings.TrimSpace(articleTitle), position),
		tags:    []string{"easel", "job", "queued"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobStarted(ctx context.Context, articleTitle string) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:   "Easel - Job Started",
		message: fmt.Sprintf("Generating images for %s", strings.TrimSpace(articleTitle)),
		tags:    []string{"easel", "job", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, articleTitle string, images int) error {
	if !n.jobs {
		return nil
	}
	data := payload{
		title:    "Easel - Job Complete",
		message:  fmt.Sprintf("Generated %d images for %s", images, strings.TrimSpace(articleTitle)),
		tags:     []string{"easel", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, articleTitle, reason string, willRetry bool) error {
	if !n.errors {
		return nil
	}
	title := "Easel - Job Failed"
	message := fmt.Sprintf("Image generation failed for %s: %s", strings.TrimSpace(articleTitle), strings.TrimSpace(reason))
	if willRetry {
		title = "Easel - Job Retrying"
		message += "\nThe job will be retried."
	}
	data := payload{
		title:    title,
		message:  message,
		tags:     []string{"easel", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, completed, failed int, duration time.Duration) error {
	if !n.sessions {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	var title, message string
	if failed == 0 {
		title = "Easel - Session Complete"
		message = fmt.Sprintf("Session complete: %d images in %s", completed, duration)
	} else {
		title = "Easel - Session Complete (with errors)"
		message = fmt.Sprintf("Session complete: %d succeeded, %d failed in %s", completed, failed, duration)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"easel", "session", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionFailed(ctx context.Context, reason string) error {
	if !n.errors {
		return nil
	}
	data := payload{
		title:    "Easel - Session Failed",
		message:  fmt.Sprintf("Generation session failed: %s", strings.TrimSpace(reason)),
		tags:     []string{"easel", "session", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "Easel - Error",
		message:  builder.String(),
		tags:     []string{"easel", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Easel - Test",
		message:  "Notification system test",
		tags:     []string{"easel", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobQueued(context.Context, string, int) error                    { return nil }
func (noopService) NotifyJobStarted(context.Context, string) error                        { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, int) error                 { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, bool) error           { return nil }
func (noopService) NotifySessionCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifySessionFailed(context.Context, string) error                     { return nil }
func (noopService) NotifyError(context.Context, error, string) error                      { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
