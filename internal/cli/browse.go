package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapseries/site/internal/db"
	"github.com/tapseries/site/internal/service"
)

const excerptLength = 160

// browseItem is one published entry as readers see it in the index.
type browseItem struct {
	ID       uint      `json:"id"`
	Kind     db.Kind   `json:"kind"`
	Title    string    `json:"title"`
	Tags     string    `json:"tags"`
	Excerpt  string    `json:"excerpt"`
	Comments int       `json:"comments"`
	Created  time.Time `json:"created_at"`
}

type browseResult struct {
	Entries []browseItem       `json:"entries"`
	Cloud   map[string]float64 `json:"cloud"`
}

func newBrowseCmd(app *App) *cobra.Command {
	var kindRaw, tag string

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Show published entries with excerpts and the tag cloud",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			kinds, err := kindsFromFlag(kindRaw)
			if err != nil {
				return err
			}
			var kind db.Kind
			if len(kinds) > 0 {
				kind = kinds[0]
			}

			entries, err := app.entries.ListPublished(ctx, kind, tag)
			if err != nil {
				return err
			}
			cloud, err := app.tags.Cloud(ctx, kinds...)
			if err != nil {
				return err
			}

			ids := make([]uint, 0, len(entries))
			for _, entry := range entries {
				ids = append(ids, entry.ID)
			}
			counts, err := app.entries.CommentCounts(ctx, ids)
			if err != nil {
				return err
			}

			result := browseResult{Entries: make([]browseItem, 0, len(entries)), Cloud: cloud}
			for i := range entries {
				entry := &entries[i]
				result.Entries = append(result.Entries, browseItem{
					ID:       entry.ID,
					Kind:     entry.Kind,
					Title:    entry.Title,
					Tags:     service.TagsAsDisplayString(entry),
					Excerpt:  service.Excerpt(entry.Content, excerptLength),
					Comments: counts[entry.ID],
					Created:  entry.CreatedAt,
				})
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}

			out := cmd.OutOrStdout()
			if len(result.Entries) == 0 {
				fmt.Fprintln(out, "nothing published yet")
			}
			for _, item := range result.Entries {
				fmt.Fprintf(out, "#%d %s\n", item.ID, item.Title)
				fmt.Fprintf(out, "  %s · %s · %s\n",
					item.Created.Local().Format(timeLayout), item.Kind, service.CommentCountLabel(item.Comments))
				if item.Tags != "" {
					fmt.Fprintf(out, "  tags: %s\n", item.Tags)
				}
				if item.Excerpt != "" {
					fmt.Fprintf(out, "  %s\n", item.Excerpt)
				}
				fmt.Fprintln(out)
			}
			if len(cloud) > 0 {
				fmt.Fprintf(out, "Tags: %s\n", cloudLine(cloud))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindRaw, "kind", "k", "", "only page or post (default both)")
	cmd.Flags().StringVar(&tag, "tag", "", "only entries with this tag")
	return cmd
}
