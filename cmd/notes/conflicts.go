package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var keepSide string

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List notes changed both here and on another device",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEnv()
		defer e.Close()

		conflicts, err := e.store.ListConflicts(ctx)
		if err != nil {
			fatal("Failed to list conflicts", err)
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLOCAL\tSERVER\tDETECTED")
		for _, c := range conflicts {
			local := "(missing)"
			if n, err := e.store.GetNote(ctx, c.NoteID); err == nil {
				local = n.Title
			}
			remote := c.Remote.Title
			if c.Remote.DeletedAt != nil {
				remote = "(deleted)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.NoteID, local, remote, c.DetectedAt.Local().Format(time.DateTime))
		}
		w.Flush()
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve a conflict by keeping the local or the server copy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var keepLocal bool
		switch keepSide {
		case "local":
			keepLocal = true
		case "remote":
		default:
			fatal("Invalid --keep", fmt.Errorf("%q is not local or remote", keepSide))
		}

		ctx := context.Background()
		e := openEnv()
		defer e.Close()

		client, err := e.client(ctx)
		if err != nil {
			fatal("Failed to start sync", err)
		}
		n, err := client.ResolveConflict(ctx, args[0], keepLocal)
		if err != nil {
			fatal("Failed to resolve conflict", err)
		}
		if keepLocal {
			fmt.Printf("Kept local copy of %q; it will overwrite the server on the next sync.\n", n.Title)
		} else {
			fmt.Printf("Replaced local copy with the server's %q.\n", n.Title)
		}
	},
}

func init() {
	rootCmd.AddCommand(conflictsCmd, resolveCmd)
	resolveCmd.Flags().StringVar(&keepSide, "keep", "", "Which copy to keep: local or remote")
	resolveCmd.MarkFlagRequired("keep")
}
