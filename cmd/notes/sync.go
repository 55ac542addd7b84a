package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jun/securenotes/internal/syncer"
)

var (
	syncWatch    bool
	syncInterval time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize notes with the server",
	Long: `Pull changes from the server, then push local edits.

With --watch, keep running: sync every interval and whenever the local
database changes, until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e := openEnv()
		defer e.Close()

		client, err := e.client(ctx)
		if err != nil {
			fatal("Failed to start sync", err)
		}

		if syncWatch {
			watch(ctx, e, client)
			return
		}

		res, err := client.Sync(ctx)
		if err != nil {
			if syncer.IsAuth(err) {
				fatal("Sync failed", fmt.Errorf("%w (run 'notes login')", err))
			}
			fatal("Sync failed", err)
		}
		printSyncResult(res)
	},
}

func watch(ctx context.Context, e *env, client *syncer.Client) {
	interval := e.cfg.SyncInterval
	if syncInterval > 0 {
		interval = syncInterval
	}

	watcher, err := syncer.NewDBWatcher(e.cfg.DBPath, syncer.DefaultWatchDebounce, slog.Default())
	if err != nil {
		fatal("Failed to watch database", err)
	}

	updates, unsubscribe := client.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(ctx, interval) })
	g.Go(func() error { return watcher.Run(ctx, client.Trigger) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case st := <-updates:
				switch st.State {
				case syncer.StateSuccess:
					fmt.Printf("%s synced\n", st.LastSyncAt.Local().Format(time.TimeOnly))
				case syncer.StateError:
					fmt.Printf("%s sync failed: %v\n", st.LastSyncAt.Local().Format(time.TimeOnly), st.LastError)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fatal("Watch stopped", err)
	}
}

func printSyncResult(res *syncer.SyncResult) {
	if res.Skipped {
		fmt.Println("A sync is already running.")
		return
	}
	if res.Pull != nil {
		r := res.Pull.Report
		fmt.Printf("Pulled: %d new, %d updated, %d kept local\n", r.Inserted, r.Updated, r.SkippedDirty)
	}
	if res.Push != nil {
		p := res.Push
		fmt.Printf("Pushed: %d synced, %d retrying, %d dropped\n",
			p.Count(syncer.OutcomeSynced), p.Count(syncer.OutcomeRetrying), p.Count(syncer.OutcomeDropped))
		if n := p.Count(syncer.OutcomeConflict); n > 0 {
			fmt.Printf("%d note(s) changed on another device; see 'notes conflicts'.\n", n)
		}
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false, "Keep syncing until interrupted")
	syncCmd.Flags().DurationVar(&syncInterval, "interval", 0, "Sync interval for --watch (default from config)")
}
