package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"easel/internal/session"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the current generation session",
	}
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionClearCommand(ctx))
	return sessionCmd
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show session progress and per-variation state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}

			tracker := session.NewTracker(cfg)
			record, err := tracker.Current()
			if err != nil {
				if errors.Is(err, session.ErrNoSession) {
					fmt.Fprintln(cmd.OutOrStdout(), "No active session")
					return nil
				}
				return err
			}
			progress, err := tracker.Progress()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			kind := statusInfo
			switch record.Status {
			case session.StatusCompleted:
				kind = statusOK
			case session.StatusFailed:
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Session", kind, fmt.Sprintf("%s (%s)", record.SessionID, record.Status), colorize))
			fmt.Fprintln(out, renderStatusLine("Progress", statusInfo,
				fmt.Sprintf("%.0f%% (%d/%d done, %d failed)", progress.Percent, record.Completed, record.Total, record.Failed), colorize))
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, record.StartedAt.Local().Format(time.DateTime), colorize))
			if record.Error != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, record.Error, colorize))
			}

			if len(record.Variations) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(record.Variations))
			for _, variation := range record.Variations {
				rows = append(rows, []string{
					positionLabel(variation.ID),
					variation.Status,
					variation.Filename,
					truncate(variation.Error, 48),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Variation", "Status", "File", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newSessionClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the session status file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}

			if err := session.NewTracker(cfg).ClearSession(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
			return nil
		},
	}
}
