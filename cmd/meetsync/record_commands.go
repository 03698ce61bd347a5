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

func newListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list [source]",
		Short: "List sync records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source string
			if len(args) == 1 {
				source = strings.TrimSpace(args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ListRecords(source, states)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Items)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No sync records")
					return nil
				}
				fmt.Fprint(out, renderRecordTable(resp.Items, shouldColorize(out)))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "Filter by state (repeatable or comma separated)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show one sync record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.GetRecord(id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Item)
				}
				writeRecordDetail(cmd.OutOrStdout(), resp.Item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <record-id>",
		Short: "Reset a failed or abandoned record for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				rec, err := client.Retry(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Record %s queued for retry (%s, %d/%d attempts)\n",
					rec.ID, rec.State, rec.Attempts, rec.MaxAttempts)
				return nil
			})
		},
	}
}

func renderRecordTable(items []api.SyncRecord, colorize bool) string {
	rows := make([][]string, 0, len(items))
	for _, rec := range items {
		rows = append(rows, []string{
			rec.ID,
			rec.Source,
			paint(statusKindColor(stateKind(rec.State)), rec.State, colorize),
			truncate(rec.MeetingTitle, 40),
			fmt.Sprintf("%d/%d", rec.Attempts, rec.MaxAttempts),
			dashIfEmpty(rec.NextAttemptAt),
			truncate(dashIfEmpty(rec.ErrorMessage), 40),
		})
	}
	return renderTable(
		[]string{"ID", "Source", "State", "Meeting", "Attempts", "Next Attempt", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func writeRecordDetail(out io.Writer, rec api.SyncRecord) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Record "+rec.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	field := func(label, value string) {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, label+":", dashIfEmpty(value))
	}
	field("Meeting", fmt.Sprintf("%s (%s)", rec.MeetingTitle, rec.MeetingID))
	field("Source", rec.Source)
	fmt.Fprintln(out, renderStatusLine("State", stateKind(rec.State), rec.State, colorize))
	field("Origin", rec.Origin)
	field("Attempts", fmt.Sprintf("%d/%d", rec.Attempts, rec.MaxAttempts))
	field("Recording", rec.RecordingID)
	if rec.MatchConfidence != nil {
		field("Match confidence", strconv.FormatFloat(*rec.MatchConfidence, 'f', 2, 64))
	}
	field("Next attempt", rec.NextAttemptAt)
	field("Last attempt", rec.LastAttemptAt)
	field("Completed", rec.CompletedAt)
	field("Transcript", rec.TranscriptPath)
	field("Retry requested", yesNo(rec.RetryRequested))
	if rec.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, rec.ErrorMessage, colorize))
	}
	field("Created", rec.CreatedAt)
	field("Updated", rec.UpdatedAt)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 3 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}
