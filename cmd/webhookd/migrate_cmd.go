package main

import (
	"fmt"

	sqlstore "github.com/goliatone/go-webhooks/store/sql"
	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the dispatch and inbound ledger migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			daemon, err := loadDaemon(root)
			if err != nil {
				return err
			}
			client, err := openDatabase(cmd.Context(), daemon, true)
			if err != nil {
				return err
			}
			defer client.Close()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", sqlstore.MigrationDialect(daemon.DBDriver))
			return err
		},
	}
}
