package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/exporter"
)

var flagHistoryLimit int

func newBookmarksCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "Manage bookmarked chats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <chat-id>...",
		Short: "Bookmark chats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookmarksAdd(app, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <chat-id>",
		Short: "Remove a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookmarksRemove(app, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bookmarks in the order they were added",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookmarksList(app)
		},
	})
	return cmd
}

func runBookmarksAdd(app *App, ids []string) error {
	for _, id := range ids {
		if err := exporter.ValidateChatID(id); err != nil {
			return err
		}
	}
	sess, err := app.openStore()
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := context.Background()
	for _, id := range ids {
		if err := sess.store.AddBookmark(ctx, id); err != nil {
			return fmt.Errorf("failed to bookmark %s: %w", id, err)
		}
		fmt.Fprintf(app.Out, "Bookmarked %s\n", id)
	}
	return nil
}

func runBookmarksRemove(app *App, id string) error {
	sess, err := app.openStore()
	if err != nil {
		return err
	}
	defer sess.Close()

	removed, err := sess.store.RemoveBookmark(context.Background(), id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not bookmarked", id)
	}
	fmt.Fprintf(app.Out, "Removed bookmark %s\n", id)
	return nil
}

func runBookmarksList(app *App) error {
	sess, err := app.openStore()
	if err != nil {
		return err
	}
	defer sess.Close()

	bookmarks, err := sess.store.Bookmarks(context.Background())
	if err != nil {
		return err
	}
	if len(bookmarks) == 0 {
		fmt.Fprintln(app.Out, "No bookmarks.")
		return nil
	}
	for _, b := range bookmarks {
		fmt.Fprintf(app.Out, "%-36s  added %s\n", b.ChatID, humanize.Time(b.AddedAt))
	}
	return nil
}

func newPrefsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Get or set display preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefsGet(app, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <true|false>",
		Short: "Set a preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefsSet(app, args[0], args[1])
		},
	})
	return cmd
}

func runPrefsGet(app *App, key string) error {
	sess, err := app.openStore()
	if err != nil {
		return err
	}
	defer sess.Close()

	v, err := sess.store.Pref(context.Background(), key, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s = %t\n", key, v)
	return nil
}

func runPrefsSet(app *App, key, raw string) error {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid value %q: want true or false", raw)
	}
	sess, err := app.openStore()
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.store.SetPref(context.Background(), key, v); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s = %t\n", key, v)
	return nil
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [chat-id]",
		Short: "Show recent exports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := ""
			if len(args) == 1 {
				chatID = args[0]
			}
			return runHistory(app, chatID)
		},
	}
	cmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of entries")
	return cmd
}

func runHistory(app *App, chatID string) error {
	sess, err := app.openStore()
	if err != nil {
		return err
	}
	defer sess.Close()

	entries, err := sess.store.Exports(context.Background(), chatID, flagHistoryLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(app.Out, "No exports yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(app.Out, "%-14s  %-11s  %8s  %s\n",
			humanize.Time(e.Timestamp), e.Format, humanize.Bytes(uint64(e.Bytes)), e.Location)
	}
	return nil
}

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [chat-id]",
		Short: "Drop cached chats, messages and image counts",
		Long: `Without an argument every namespace is cleared. With a chat id only
that chat's messages and image count are dropped. The sqlite and redis
backends keep entries between invocations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runCacheClear(ctx, app, args)
		},
	})
	return cmd
}

func runCacheClear(ctx context.Context, app *App, args []string) error {
	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if len(args) == 1 {
		sess.svc.Refresh(ctx, args[0])
		fmt.Fprintf(app.Out, "Cache cleared for %s\n", args[0])
		return nil
	}
	sess.svc.ClearCache(ctx)
	fmt.Fprintln(app.Out, "Cache cleared")
	return nil
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
