package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/store"
)

var tagColor string

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Organize notes with local tags",
	Long: `Tags stay on this device. They are not synchronized and tagging a note
does not mark it as edited.`,
}

var tagLsCmd = &cobra.Command{
	Use:   "ls [<note-id>]",
	Short: "List all tags, or the tags of one note",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()
		ctx := context.Background()

		var (
			tags []model.Tag
			err  error
		)
		if len(args) == 1 {
			tags, err = e.store.TagsForNote(ctx, args[0])
		} else {
			tags, err = e.store.ListTags(ctx)
		}
		if err != nil {
			fatal("Failed to list tags", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, t := range tags {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Color)
		}
		w.Flush()
	},
}

var tagCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()

		if _, err := e.store.CreateTag(context.Background(), args[0], tagColor); err != nil {
			fatal("Failed to create tag", err)
		}
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a tag and remove it from every note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()
		ctx := context.Background()

		t := e.mustTag(ctx, args[0])
		if err := e.store.DeleteTag(ctx, t.ID); err != nil {
			fatal("Failed to delete tag", err)
		}
	},
}

var tagAddCmd = &cobra.Command{
	Use:   "add <note-id> <name>",
	Short: "Tag a note, creating the tag if needed",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()
		ctx := context.Background()

		t, err := e.store.TagByName(ctx, args[1])
		if errors.Is(err, store.ErrNotFound) {
			t, err = e.store.CreateTag(ctx, args[1], tagColor)
		}
		if err != nil {
			fatal("Failed to get tag", err)
		}
		if err := e.store.AddTagToNote(ctx, args[0], t.ID); err != nil {
			fatal("Failed to tag note", err)
		}
	},
}

var tagRmCmd = &cobra.Command{
	Use:   "rm <note-id> <name>",
	Short: "Remove a tag from a note",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()
		ctx := context.Background()

		t := e.mustTag(ctx, args[1])
		if err := e.store.RemoveTagFromNote(ctx, args[0], t.ID); err != nil {
			fatal("Failed to untag note", err)
		}
	},
}

func (e *env) mustTag(ctx context.Context, name string) *model.Tag {
	t, err := e.store.TagByName(ctx, name)
	if err != nil {
		fatal(fmt.Sprintf("Unknown tag %q", name), err)
	}
	return t
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagLsCmd, tagCreateCmd, tagDeleteCmd, tagAddCmd, tagRmCmd)

	tagCreateCmd.Flags().StringVar(&tagColor, "color", "", "Tag color (default #6366f1)")
	tagAddCmd.Flags().StringVar(&tagColor, "color", "", "Color if the tag is created")
}
