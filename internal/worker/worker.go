package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"easel/internal/config"
	"easel/internal/flags"
	"easel/internal/logging"
	"easel/internal/notifications"
	"easel/internal/queue"
	"easel/internal/services/cms"
	"easel/internal/services/imagegen"
	"easel/internal/session"
)

// Worker polls the queue and processes generation jobs one at a time.
type Worker struct {
	cfg        *config.Config
	store      *queue.Store
	tracker    *session.Tracker
	flagStore  *flags.Store
	generator  imagegen.Generator
	integrator cms.Integrator
	notifier   notifications.Service
	logger     *slog.Logger

	pollInterval time.Duration
	errorRetry   time.Duration

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job
}

// Option overrides a collaborator, primarily for tests.
type Option func(*Worker)

// WithGenerator injects a custom generator.
func WithGenerator(g imagegen.Generator) Option {
	return func(w *Worker) {
		if g != nil {
			w.generator = g
		}
	}
}

// WithIntegrator injects a custom CMS integrator.
func WithIntegrator(i cms.Integrator) Option {
	return func(w *Worker) {
		if i != nil {
			w.integrator = i
		}
	}
}

// WithNotifier injects a custom notification service.
func WithNotifier(n notifications.Service) Option {
	return func(w *Worker) {
		if n != nil {
			w.notifier = n
		}
	}
}

// New constructs a worker with collaborators built from configuration.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) (*Worker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Worker{
		cfg:          cfg,
		store:        store,
		tracker:      session.NewTracker(cfg),
		flagStore:    flags.NewStore(cfg),
		notifier:     notifications.NewService(cfg),
		logger:       logging.NewComponentLogger(logger, "worker"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetry:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.generator == nil {
		generator, err := imagegen.New(cfg.GeneratorBinary(), cfg.Generator.TimeoutSeconds,
			imagegen.WithOutputSink(func(line string) {
				w.logger.Debug("generator output", logging.String("line", line))
			}))
		if err != nil {
			return nil, err
		}
		w.generator = generator
	}
	if w.integrator == nil {
		integrator, err := cms.NewIntegrator(cfg, logger)
		if err != nil {
			return nil, err
		}
		w.integrator = integrator
	}
	return w, nil
}

// Start begins background processing. Jobs left in processing by an earlier
// crash are returned to pending before the first poll.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	if reset, err := w.store.ResetStuckProcessing(ctx); err != nil {
		w.logger.Warn("failed to reset stuck processing jobs", logging.Error(err))
	} else if reset > 0 {
		w.logger.Info("returned stuck jobs to pending", logging.Int64("count", reset))
	}

	go w.run(runCtx)
	return nil
}

// Stop terminates polling and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("worker started",
		logging.Duration("poll_interval", w.pollInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		default:
		}

		w.checkSessionTimeout(ctx)
		w.sweepFlags(ctx)

		job, err := w.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.setLastError(err)
			w.logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"))
			w.wait(ctx, w.errorRetry)
			continue
		}
		if job == nil {
			w.wait(ctx, w.pollInterval)
			continue
		}

		// The job context is detached from the loop context so shutdown
		// does not kill an in-flight subprocess.
		w.processJob(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// StatusSummary reports lightweight worker diagnostics for the status API.
type StatusSummary struct {
	Running    bool                 `json:"running"`
	LastError  string               `json:"last_error,omitempty"`
	LastJob    *queue.Job           `json:"last_job,omitempty"`
	QueueStats map[queue.Status]int `json:"queue_stats"`
}

// Status returns the latest worker state plus queue statistics.
func (w *Worker) Status(ctx context.Context) StatusSummary {
	w.mu.RLock()
	running := w.running
	lastErr := w.lastErr
	lastJob := w.lastJob
	w.mu.RUnlock()

	stats, err := w.store.Stats(ctx)
	if err != nil {
		w.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{Running: running, QueueStats: stats}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		cp := *lastJob
		summary.LastJob = &cp
	}
	return summary
}

func (w *Worker) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) setLastJob(job *queue.Job) {
	w.mu.Lock()
	if job != nil {
		cp := *job
		w.lastJob = &cp
	} else {
		w.lastJob = nil
	}
	w.mu.Unlock()
}
