package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"easel/internal/daemon"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/worker"
	"easel/internal/workerctl"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the easel daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := workerctl.PIDFilePath(cfg)
	if running, pid := workerctl.IsRunning(pidPath); running {
		return fmt.Errorf("easel daemon already running (pid %d)", pid)
	}
	if err := workerctl.WritePIDFile(pidPath, os.Getpid()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() {
		_ = workerctl.RemovePIDFileIfOwned(pidPath, os.Getpid())
	}()

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	w, err := worker.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	d, err := daemon.New(cfg, store, w, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("easel daemon shut down")
	return nil
}
