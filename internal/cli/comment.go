package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapseries/site/internal/service"
)

func newCommentCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "comment",
		Short:   "Add and list comments on entries",
		Aliases: []string{"comments"},
	}

	cmd.AddCommand(newCommentAddCmd(app))
	cmd.AddCommand(newCommentListCmd(app))

	return cmd
}

func newCommentAddCmd(app *App) *cobra.Command {
	var input service.CommentInput

	cmd := &cobra.Command{
		Use:   "add <entry-id>",
		Short: "Add a comment to an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			comment, err := app.entries.AddComment(cmd.Context(), entryID, input)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), comment)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added comment #%d to entry #%d\n", comment.ID, entryID)
			return err
		},
	}

	cmd.Flags().StringVarP(&input.Author, "author", "a", "", "comment author")
	cmd.Flags().StringVar(&input.Content, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("author")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

func newCommentListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list <entry-id>",
		Short:   "List the comments of an entry, oldest first",
		Aliases: []string{"ls"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := parseID(args[0], "entry")
			if err != nil {
				return err
			}
			comments, err := app.entries.Comments(cmd.Context(), entryID)
			if err != nil {
				return err
			}

			if app.format == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), comments)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, service.CommentCountLabel(len(comments)))
			if len(comments) == 0 {
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "ID\tAUTHOR\tCREATED\tTEXT")
			for _, comment := range comments {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					comment.ID, comment.Author, comment.CreatedAt.Local().Format(timeLayout), comment.Content)
			}
			return w.Flush()
		},
	}
}
