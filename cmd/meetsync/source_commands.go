package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"meetsync/internal/api"
	"meetsync/internal/ipc"
)

func newSourceCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newToggleCommand(ctx, true),
		newToggleCommand(ctx, false),
		newIntervalCommand(ctx),
		newBackfillCommand(ctx),
		newTestCommand(ctx),
	}
}

func newToggleCommand(ctx *commandContext, enable bool) *cobra.Command {
	use, short := "disable <source>", "Stop syncing a source"
	if enable {
		use, short = "enable <source>", "Start syncing a source (first enable backfills past meetings)"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SetEnabled(source, enable)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Status.Enabled {
					fmt.Fprintf(out, "Source %s enabled\n", source)
				} else {
					fmt.Fprintf(out, "Source %s disabled\n", source)
				}
				if resp.Backfill != nil {
					writeBackfillResult(out, *resp.Backfill)
				}
				return nil
			})
		},
	}
}

func newIntervalCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "interval <source> <minutes>",
		Short: "Change how often a source is polled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			minutes, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil || minutes <= 0 {
				return fmt.Errorf("invalid interval %q: must be a positive number of minutes", args[1])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.SetPollInterval(source, minutes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source %s now polls every %d minutes\n", status.Source, status.PollIntervalMinutes)
				return nil
			})
		},
	}
}

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "backfill <source>",
		Short: "Create pending sync records for recent past meetings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			source := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.Backfill(source, days)
				if err != nil {
					return err
				}
				writeBackfillResult(cmd.OutOrStdout(), *result)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Window in days (defaults to backfill.window_days)")
	return cmd
}

func newTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <source>",
		Short: "Check connectivity to a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.TestConnection(source)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if result.OK {
					fmt.Fprintln(out, renderStatusLine(result.Source, statusOK, result.Message, colorize))
					return nil
				}
				message := result.Message
				if result.Kind != "" {
					message = fmt.Sprintf("%s (%s)", message, result.Kind)
				}
				fmt.Fprintln(out, renderStatusLine(result.Source, statusError, message, colorize))
				return fmt.Errorf("connection test failed for %s", result.Source)
			})
		},
	}
}

func writeBackfillResult(out io.Writer, result api.BackfillResult) {
	fmt.Fprintf(out, "Backfill %s: %d new of %d eligible meetings", result.Source, result.Created, result.Eligible)
	if result.From != "" && result.To != "" {
		fmt.Fprintf(out, " (%s to %s)", result.From, result.To)
	}
	fmt.Fprintln(out)
}
