package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"meetsync/internal/api"
	"meetsync/internal/daemonctl"
	"meetsync/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status [source]",
		Short: "Show daemon and per-source sync status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialClient()
			if err != nil {
				if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
					return err
				}
				return renderOfflineStatus(cmd, ctx, jsonOutput)
			}
			defer client.Close()

			if len(args) == 1 {
				status, err := client.SourceStatus(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				writeSourceDetail(stdout, *status, colorize)
				return nil
			}

			status, err := client.Status()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			writeDaemonStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderOfflineStatus(cmd *cobra.Command, ctx *commandContext, jsonOutput bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	state, err := daemonctl.Inspect(cfg)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, ipc.StatusResponse{Running: false, PID: state.PID})
	}
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	switch {
	case state.Alive:
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, fmt.Sprintf("process %d alive but socket unreachable", state.PID), colorize))
	case state.Stale:
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "not running (stale pid file "+state.PIDFile+")", colorize))
	default:
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "not running", colorize))
	}
	return nil
}

func writeDaemonStatus(out io.Writer, status *ipc.StatusResponse) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "lanes stopped", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Ledger", statusInfo, status.LedgerBackend, colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Sources", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.Sources) == 0 {
		fmt.Fprintln(out, "No sources configured")
		return
	}
	rows := make([][]string, 0, len(status.Sources))
	for _, src := range status.Sources {
		rows = append(rows, []string{
			src.Source,
			yesNo(src.Enabled),
			strconv.Itoa(src.PollIntervalMinutes),
			strconv.Itoa(src.Counts.Pending),
			strconv.Itoa(src.Counts.Active),
			strconv.Itoa(src.Counts.Failed),
			strconv.Itoa(src.Counts.Completed),
			strconv.Itoa(src.Counts.Abandoned),
			dashIfEmpty(src.LastSyncAt),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Source", "Enabled", "Interval", "Pending", "Active", "Failed", "Done", "Abandoned", "Last Sync"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	fmt.Fprintln(out)
	for _, src := range status.Sources {
		if src.LastError != "" {
			fmt.Fprintln(out, renderStatusLine(src.Source, statusError, src.LastError, colorize))
		}
	}
}

func writeSourceDetail(out io.Writer, src api.SourceStatus, colorize bool) {
	for _, line := range renderSectionHeader("Source "+src.Source, colorize) {
		fmt.Fprintln(out, line)
	}
	enabledKind := statusWarn
	if src.Enabled {
		enabledKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Enabled", enabledKind, yesNo(src.Enabled), colorize))
	fmt.Fprintln(out, renderStatusLine("Poll interval", statusInfo, fmt.Sprintf("%d min", src.PollIntervalMinutes), colorize))
	fmt.Fprintln(out, renderStatusLine("Last sync", statusInfo, dashIfEmpty(src.LastSyncAt), colorize))
	if src.CheckpointAt != "" {
		fmt.Fprintln(out, renderStatusLine("Checkpoint", statusInfo, src.CheckpointAt, colorize))
	}
	if src.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, fmt.Sprintf("%s (%s)", src.LastError, dashIfEmpty(src.LastErrorAt)), colorize))
	}
	c := src.Counts
	fmt.Fprintln(out, renderStatusLine("Records", statusInfo,
		fmt.Sprintf("%d total, %d pending, %d active, %d failed, %d completed, %d abandoned",
			c.Total, c.Pending, c.Active, c.Failed, c.Completed, c.Abandoned), colorize))
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
