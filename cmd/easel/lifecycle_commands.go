package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"easel/internal/daemon"
	"easel/internal/queue"
	"easel/internal/workerctl"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 30 * time.Second
	statusHTTPPeriod = 2 * time.Second
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the easel daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}

			pidPath := workerctl.PIDFilePath(cfg)
			result, err := workerctl.EnsureStarted(pidPath, func() error {
				return workerctl.Launch(exe, ctx.configPath())
			}, startWaitTimeout)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch result.State {
			case workerctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the easel daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}

			result, err := workerctl.Stop(workerctl.PIDFilePath(cfg), stopGracePeriod)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not exit gracefully, force killed (pid %d)\n", result.StoppedPID)
			} else {
				fmt.Fprintf(out, "Daemon stopped (pid %d)\n", result.StoppedPID)
			}
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			if status, err := fetchDaemonStatus(ctx); err == nil {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
				workerState := "idle"
				if status.Worker.LastJob != nil && status.Worker.LastJob.Status == queue.StatusProcessing {
					workerState = fmt.Sprintf("processing job %s", status.Worker.LastJob.ID)
				}
				fmt.Fprintln(out, renderStatusLine("Worker", statusInfo, workerState, colorize))
				if status.Worker.LastError != "" {
					fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.Worker.LastError, colorize))
				}
				printQueueStats(out, status.Worker.QueueStats, colorize)
				return nil
			}

			running, pid := workerctl.IsRunning(workerctl.PIDFilePath(cfg))
			if running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, fmt.Sprintf("running (pid %d) but API unreachable", pid), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "not running", colorize))
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("read queue stats: %w", err)
			}
			printQueueStats(out, stats, colorize)
			return nil
		},
	}
}

func fetchDaemonStatus(ctx *commandContext) (*daemon.Status, error) {
	base, err := ctx.apiBaseURL()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: statusHTTPPeriod}
	resp, err := client.Get(base + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

func printQueueStats(out io.Writer, stats map[queue.Status]int, colorize bool) {
	total := 0
	for _, count := range stats {
		total += count
	}
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d job(s)", total), colorize))
	for _, status := range queue.AllStatuses() {
		count := stats[status]
		if count == 0 {
			continue
		}
		kind := statusInfo
		if status == queue.StatusFailed {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("  "+titleCaser.String(string(status)), kind, fmt.Sprintf("%d", count), colorize))
	}
}
