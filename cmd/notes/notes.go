package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jun/securenotes/internal/markdown"
	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/store"
)

var (
	noteTitle   string
	noteContent string
	listSearch  string
	listTag     string
	listJSON    bool
	showHTML    bool
)

// readContent treats "-" as "read from stdin".
func readContent(s string) string {
	if s != "-" {
		return s
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fatal("Failed to read stdin", err)
	}
	return string(data)
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a note",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()

		n, err := e.store.CreateNote(context.Background(), noteTitle, readContent(noteContent))
		if err != nil {
			fatal("Failed to create note", err)
		}
		fmt.Println(n.ID)
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a note's title or content",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var title, content *string
		if cmd.Flags().Changed("title") {
			title = &noteTitle
		}
		if cmd.Flags().Changed("content") {
			c := readContent(noteContent)
			content = &c
		}
		if title == nil && content == nil {
			fatal("Nothing to change", errors.New("pass --title and/or --content"))
		}

		e := openEnv()
		defer e.Close()

		if _, err := e.store.UpdateNote(context.Background(), args[0], title, content); err != nil {
			fatal("Failed to update note", err)
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()

		if err := e.store.DeleteNote(context.Background(), args[0]); err != nil {
			fatal("Failed to delete note", err)
		}
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List notes, most recently edited first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()
		ctx := context.Background()

		var (
			notes []model.Note
			err   error
		)
		switch {
		case listSearch != "" && listTag != "":
			fatal("Failed to list notes", errors.New("--search and --tag cannot be combined"))
		case listSearch != "":
			notes, err = e.store.SearchNotes(ctx, listSearch)
		case listTag != "":
			notes, err = e.store.NotesWithTag(ctx, e.mustTag(ctx, listTag).ID)
		default:
			notes, err = e.store.ListNotes(ctx)
		}
		if err != nil {
			fatal("Failed to list notes", err)
		}

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(notes); err != nil {
				fatal("Failed to encode notes", err)
			}
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, n := range notes {
			mark := " "
			if n.IsDirty {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s %s\t%s\n", n.ID, mark, n.Title, n.UpdatedAt.Local().Format(time.DateTime))
		}
		w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()

		n, err := e.store.GetNote(context.Background(), args[0])
		if errors.Is(err, store.ErrNotFound) || (err == nil && n.IsDeleted()) {
			fatal("Failed to show note", store.ErrNotFound)
		}
		if err != nil {
			fatal("Failed to show note", err)
		}

		if !showHTML {
			fmt.Printf("# %s\n\n%s\n", n.Title, n.Content)
			return
		}

		exp, err := markdown.NewExporter()
		if err != nil {
			fatal("Failed to initialize exporter", err)
		}
		page, err := exp.RenderNote(*n)
		if err != nil {
			fatal("Failed to render note", err)
		}
		os.Stdout.Write(page)
	},
}

func init() {
	rootCmd.AddCommand(newCmd, editCmd, rmCmd, lsCmd, showCmd)

	newCmd.Flags().StringVarP(&noteTitle, "title", "t", "", "Note title")
	newCmd.Flags().StringVarP(&noteContent, "content", "c", "", "Note content (- reads stdin)")
	editCmd.Flags().StringVarP(&noteTitle, "title", "t", "", "New title")
	editCmd.Flags().StringVarP(&noteContent, "content", "c", "", "New content (- reads stdin)")

	lsCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Only notes whose title or content contains this text")
	lsCmd.Flags().StringVar(&listTag, "tag", "", "Only notes with this tag")
	lsCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")

	showCmd.Flags().BoolVar(&showHTML, "html", false, "Render the note as an HTML page")
}
