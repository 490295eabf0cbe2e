package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/tapseries/site/internal/db"
	"github.com/tapseries/site/internal/service"
)

const timeLayout = "2006-01-02 15:04"

func newEntryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entry",
		Short:   "Manage pages and posts",
		Aliases: []string{"entries"},
	}

	cmd.AddCommand(newEntryAddCmd(app))
	cmd.AddCommand(newEntryEditCmd(app))
	cmd.AddCommand(newEntryShowCmd(app))
	cmd.AddCommand(newEntryListCmd(app))
	cmd.AddCommand(newEntryRemoveCmd(app))

	return cmd
}

// entry add - create a page or post
func newEntryAddCmd(app *App) *cobra.Command {
	var (
		kindRaw, title, content, contentFile, tags, statusRaw string
	)

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Create a page or a post",
		Aliases: []string{"create"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := db.ParseKind(kindRaw)
			if err != nil {
				return err
			}
			status, err := db.ParseStatus(statusRaw)
			if err != nil {
				return err
			}
			body, err := readContent(cmd, content, contentFile)
			if err != nil {
				return err
			}

			entry, err := app.entries.Create(cmd.Context(), service.EntryInput{
				Kind:    kind,
				Title:   title,
				Content: body,
				Tags:    tags,
				Status:  status,
			})
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), entry)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s #%d %q [%s]\n",
				entry.Kind, entry.ID, entry.Title, service.TagsAsDisplayString(entry))
			return err
		},
	}

	cmd.Flags().StringVarP(&kindRaw, "kind", "k", string(db.KindPost), "page or post")
	cmd.Flags().StringVarP(&title, "title", "t", "", "title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "markdown body")
	cmd.Flags().StringVarP(&contentFile, "content-file", "f", "", "read the body from a file (- for stdin)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tag names")
	cmd.Flags().StringVarP(&statusRaw, "status", "s", "draft", "draft or published")
	_ = cmd.MarkFlagRequired("title")
	cmd.MarkFlagsMutuallyExclusive("content", "content-file")

	return cmd
}

// entry edit - partial update, unset flags keep stored values
func newEntryEditCmd(app *App) *cobra.Command {
	var (
		title, content, contentFile, tags, statusRaw string
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Update an entry; tags are re-synced only when --tags is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}

			var patch service.EntryPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("content") || flags.Changed("content-file") {
				body, err := readContent(cmd, content, contentFile)
				if err != nil {
					return err
				}
				patch.Content = &body
			}
			if flags.Changed("tags") {
				patch.Tags = &tags
			}
			if flags.Changed("status") {
				status, err := db.ParseStatus(statusRaw)
				if err != nil {
					return err
				}
				patch.Status = &status
			}

			entry, err := app.entries.Update(cmd.Context(), id, patch)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), entry)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated %s #%d %q [%s]\n",
				entry.Kind, entry.ID, entry.Title, service.TagsAsDisplayString(entry))
			return err
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "new markdown body")
	cmd.Flags().StringVarP(&contentFile, "content-file", "f", "", "read the new body from a file (- for stdin)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tag names, replaces the current set")
	cmd.Flags().StringVarP(&statusRaw, "status", "s", "", "draft or published")
	cmd.MarkFlagsMutuallyExclusive("content", "content-file")

	return cmd
}

// entry show - one entry with rendered body and comments
func newEntryShowCmd(app *App) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entry with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			entry, err := app.entries.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), entry)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "#%d %s (%s, %s)\n", entry.ID, entry.Title, entry.Kind, entry.Status)
			fmt.Fprintf(out, "Created: %s\n", entry.CreatedAt.Local().Format(timeLayout))
			if tags := service.TagsAsDisplayString(entry); tags != "" {
				fmt.Fprintf(out, "Tags: %s\n", tags)
			}
			fmt.Fprintln(out)

			body := entry.Content
			if !raw {
				if rendered, err := renderMarkdown(body); err == nil {
					body = rendered
				} else {
					app.log.Debug("markdown rendering failed, printing raw body")
				}
			}
			fmt.Fprintln(out, strings.TrimRight(body, "\n"))
			fmt.Fprintln(out)

			fmt.Fprintln(out, service.CommentCountLabel(len(entry.Comments)))
			for _, comment := range entry.Comments {
				fmt.Fprintf(out, "  %s (%s)\n    %s\n",
					comment.Author, comment.CreatedAt.Local().Format(timeLayout), comment.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown body without rendering")
	return cmd
}

// entry list - paginated listing with counters
func newEntryListCmd(app *App) *cobra.Command {
	var (
		kindRaw, statusRaw string
		filter             service.EntryFilter
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List entries, newest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kindRaw != "" {
				kind, err := db.ParseKind(kindRaw)
				if err != nil {
					return err
				}
				filter.Kind = kind
			}
			if statusRaw != "" {
				status, err := db.ParseStatus(statusRaw)
				if err != nil {
					return err
				}
				filter.Status = status
			}

			result, err := app.entries.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tTITLE\tTAGS\tCREATED")
			for i := range result.Entries {
				entry := &result.Entries[i]
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					entry.ID, entry.Kind, entry.Status, entry.Title,
					service.TagsAsDisplayString(entry), entry.CreatedAt.Local().Format(timeLayout))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d total (%d published, %d drafts)\n",
				result.Page, result.TotalPages, result.Total, result.PublishedCount, result.DraftCount)
			return err
		},
	}

	cmd.Flags().StringVarP(&kindRaw, "kind", "k", "", "only page or post")
	cmd.Flags().StringVarP(&statusRaw, "status", "s", "", "only draft or published")
	cmd.Flags().StringVar(&filter.TagName, "tag", "", "only entries with this tag")
	cmd.Flags().StringVar(&filter.Search, "search", "", "match title or body")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&filter.PerPage, "per-page", 10, "entries per page")

	return cmd
}

// entry rm - delete with comments and tag associations
func newEntryRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Short:   "Delete an entry, its comments and tag associations",
		Aliases: []string{"delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			if err := app.entries.Delete(cmd.Context(), id); err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted entry #%d\n", id)
			return err
		},
	}
}

func readContent(cmd *cobra.Command, content, file string) (string, error) {
	switch file {
	case "":
		return content, nil
	case "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read body from stdin: %w", err)
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("content file %s does not exist", file)
			}
			return "", fmt.Errorf("read content file: %w", err)
		}
		return string(b), nil
	}
}

func renderMarkdown(body string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(body)
}
