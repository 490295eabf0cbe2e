package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapseries/site/internal/seed"
)

func newSeedCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill an empty store with sample pages, posts and comments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := seed.Run(cmd.Context(), app.db, app.entries, app.log, force)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			if result.Skipped {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "entries already exist, nothing seeded (use --force to add samples anyway)")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d entries and %d comments\n", result.Entries, result.Comments)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "add samples even when entries exist")
	return cmd
}
