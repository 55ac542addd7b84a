package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jun/securenotes/internal/syncer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEnv()
		defer e.Close()

		account, ok, err := e.store.GetMeta(ctx, accountKey)
		if err != nil {
			fatal("Failed to read account", err)
		}
		tok, err := syncer.NewStoredTokenSource(e.store).Token()
		loggedIn := err == nil
		if err != nil && !errors.Is(err, syncer.ErrNoCredential) {
			fatal("Failed to read session", err)
		}
		switch {
		case !ok:
			fmt.Println("Account:      (none)")
		case !loggedIn:
			fmt.Printf("Account:      %s (logged out)\n", account)
		case !tok.Valid():
			fmt.Printf("Account:      %s (session expired, run notes login)\n", account)
		default:
			fmt.Printf("Account:      %s\n", account)
		}
		fmt.Printf("Server:       %s\n", e.cfg.ServerURL)

		baseline, err := e.store.LastPulledVersion(ctx)
		if err != nil {
			fatal("Failed to read baseline", err)
		}
		st, err := e.store.Stats(ctx)
		if err != nil {
			fatal("Failed to read stats", err)
		}
		fmt.Printf("Notes:        %d\n", st.Notes)
		fmt.Printf("Unsynced:     %d\n", st.Dirty)
		fmt.Printf("Queued:       %d\n", st.Queued)
		fmt.Printf("Given up:     %d\n", st.DeadLetters)
		fmt.Printf("Conflicts:    %d\n", st.Conflicts)
		fmt.Printf("Last pulled:  %d\n", baseline)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
