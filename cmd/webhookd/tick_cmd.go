package main

import (
	"encoding/json"

	"github.com/goliatone/go-webhooks/adapters/gocommand"
	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	"github.com/spf13/cobra"
)

func newTickCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one dispatch worker tick and print its stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := gocommand.DispatchWithResult[webhookcommand.RunTickMessage, core.TickStats](
				cmd.Context(),
				webhookcommand.RunTickMessage{},
			)
			if err != nil {
				return err
			}
			return writeJSON(cmd, stats)
		},
	}
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dispatch-id>",
		Short: "Queue a fresh copy of a dead dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := webhookcommand.ReplayDispatchMessage{DispatchID: args[0]}
			if err := msg.Validate(); err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			record, err := gocommand.DispatchWithResult[webhookcommand.ReplayDispatchMessage, core.DispatchRecord](
				cmd.Context(),
				msg,
			)
			if err != nil {
				return err
			}
			return writeJSON(cmd, record)
		},
	}
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
