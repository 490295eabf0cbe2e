package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tapseries/site/internal/db"
)

var (
	strongTag = lipgloss.NewStyle().Bold(true)
	weakTag   = lipgloss.NewStyle().Faint(true)
)

func newTagCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tag",
		Short:   "Inspect and administer tags",
		Aliases: []string{"tags"},
	}

	cmd.AddCommand(newTagListCmd(app))
	cmd.AddCommand(newTagCloudCmd(app))
	cmd.AddCommand(newTagRenameCmd(app))
	cmd.AddCommand(newTagRemoveCmd(app))

	return cmd
}

func newTagListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List all tags with the number of entries using them",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usages, err := app.tags.List(cmd.Context())
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), usages)
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tENTRIES")
			for _, usage := range usages {
				fmt.Fprintf(w, "%d\t%s\t%d\n", usage.ID, usage.Name, usage.Count)
			}
			return w.Flush()
		},
	}
}

func newTagCloudCmd(app *App) *cobra.Command {
	var kindRaw string

	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Show the relative weight of tags across published entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := kindsFromFlag(kindRaw)
			if err != nil {
				return err
			}

			cloud, err := app.tags.Cloud(cmd.Context(), kinds...)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), cloud)
			}
			return writeCloud(cmd.OutOrStdout(), cloud)
		},
	}

	cmd.Flags().StringVarP(&kindRaw, "kind", "k", "", "only page or post (default both)")
	return cmd
}

func newTagRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "tag")
			if err != nil {
				return err
			}
			tag, err := app.tags.Rename(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), tag)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "renamed tag #%d to %q\n", tag.ID, tag.Name)
			return err
		},
	}
}

func newTagRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Short:   "Delete a tag that no entry uses",
		Aliases: []string{"delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "tag")
			if err != nil {
				return err
			}
			if err := app.tags.Delete(cmd.Context(), id); err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted tag #%d\n", id)
			return err
		},
	}
}

func kindsFromFlag(raw string) ([]db.Kind, error) {
	if raw == "" {
		return nil, nil
	}
	kind, err := db.ParseKind(raw)
	if err != nil {
		return nil, err
	}
	return []db.Kind{kind}, nil
}

// writeCloud prints tags by name with their score; heavy tags are bold,
// light ones faint.
func writeCloud(out io.Writer, cloud map[string]float64) error {
	if len(cloud) == 0 {
		_, err := fmt.Fprintln(out, "no published tagged entries")
		return err
	}

	names := make([]string, 0, len(cloud))
	for name := range cloud {
		names = append(names, name)
	}
	sort.Strings(names)

	// 先按显示宽度补齐再着色，转义序列不计入列宽
	width := 0
	for _, name := range names {
		width = max(width, lipgloss.Width(name))
	}
	for _, name := range names {
		score := cloud[name]
		pad := strings.Repeat(" ", width-lipgloss.Width(name)+2)
		if _, err := fmt.Fprintf(out, "%s%s%.2f\n", emphasize(name, score), pad, score); err != nil {
			return err
		}
	}
	return nil
}

func emphasize(name string, score float64) string {
	switch {
	case score >= 2.0/3.0:
		return strongTag.Render(name)
	case score < 1.0/3.0:
		return weakTag.Render(name)
	default:
		return name
	}
}

// cloudLine renders the cloud on a single line for the browse view.
func cloudLine(cloud map[string]float64) string {
	names := make([]string, 0, len(cloud))
	for name := range cloud {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, emphasize(name, cloud[name]))
	}
	return strings.Join(parts, "  ")
}
