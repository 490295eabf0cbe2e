package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapseries/site/internal/db"
)

func newMigrateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.AutoMigrate(app.db.WithContext(cmd.Context())); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			app.log.Info("schema migrated")

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return err
		},
	}
}
