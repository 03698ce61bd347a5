package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meetsync/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Publish a test event to the configured transcript consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Message != "" {
					fmt.Fprintln(out, resp.Message)
				}
				if !resp.Sent {
					return fmt.Errorf("test notification not sent")
				}
				if resp.Message == "" {
					fmt.Fprintln(out, "Test notification sent")
				}
				return nil
			})
		},
	}
}
