package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/exporter"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

var (
	flagSort       string
	flagBookmarked bool
	flagLimit      int
)

var validSorts = []string{"date", "name", "images"}

func newChatsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List your chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runChats(ctx, app)
		},
	}
	cmd.Flags().StringVar(&flagSort, "sort", "date", "sort order (date, name, images)")
	cmd.Flags().BoolVar(&flagBookmarked, "bookmarked", false, "only bookmarked chats")
	cmd.Flags().IntVarP(&flagLimit, "limit", "n", 0, "show at most n chats (0 = all)")
	return cmd
}

func runChats(ctx context.Context, app *App) error {
	if !contains(validSorts, flagSort) {
		return fmt.Errorf("invalid sort %q: must be one of %s", flagSort, strings.Join(validSorts, ", "))
	}

	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	chats, err := sess.svc.ListChats(ctx)
	if err != nil {
		return err
	}

	bookmarks, err := sess.store.Bookmarks(ctx)
	if err != nil {
		return fmt.Errorf("failed to read bookmarks: %w", err)
	}
	marked := make(map[string]bool, len(bookmarks))
	for _, b := range bookmarks {
		marked[b.ChatID] = true
	}
	if flagBookmarked {
		kept := chats[:0]
		for _, c := range chats {
			if marked[c.UUID] {
				kept = append(kept, c)
			}
		}
		chats = kept
	}

	if len(chats) == 0 {
		fmt.Fprintln(app.Out, "No chats found.")
		return nil
	}

	switch flagSort {
	case "images":
		if err := sess.svc.FillImageCounts(ctx, chats); err != nil {
			return err
		}
		exporter.SortByImageCount(chats)
	case "name":
		sort.SliceStable(chats, func(i, j int) bool {
			return strings.ToLower(chats[i].Name) < strings.ToLower(chats[j].Name)
		})
	default:
		sort.SliceStable(chats, func(i, j int) bool {
			return chats[i].CreatedAt.After(chats[j].CreatedAt)
		})
	}

	total := len(chats)
	if flagLimit > 0 && flagLimit < total {
		chats = chats[:flagLimit]
	}

	fmt.Fprintf(app.Out, "%-1s %-36s  %-28s  %-14s  %s\n", "", "ID", "NAME", "CREATED", "IMAGES")
	for _, c := range chats {
		mark := " "
		if marked[c.UUID] {
			mark = "*"
		}
		fmt.Fprintf(app.Out, "%s %-36s  %-28s  %-14s  %s\n",
			mark, c.UUID, truncate(chatTitle(c), 28), humanize.Time(c.CreatedAt), imageCount(c))
	}
	fmt.Fprintf(app.Out, "\n%s chats\n", humanize.Comma(int64(total)))
	return nil
}

func chatTitle(c models.ChatSummary) string {
	if c.Name != "" {
		return c.Name
	}
	if ch, ok := c.PrimaryCharacter(); ok && ch.Name != "" {
		return ch.Name
	}
	return "(untitled)"
}

func imageCount(c models.ChatSummary) string {
	if c.ImageCount == nil {
		return "-"
	}
	return humanize.Comma(int64(*c.ImageCount))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
