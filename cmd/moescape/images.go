package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/exporter"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/preview"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/store"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

var (
	flagExcludePortraits bool
	flagIndex            []int
	flagForcePreview     bool
)

func newImagesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List, group and download the images of a chat",
	}
	cmd.AddCommand(newImagesListCmd(app))
	cmd.AddCommand(newImagesBatchCmd(app))
	cmd.AddCommand(newImagesDownloadCmd(app))
	cmd.AddCommand(newImagesShowCmd(app))
	return cmd
}

func newImagesListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list <chat-id>",
		Short: "List image URLs found in a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runImagesList(ctx, app, args[0])
		},
	}
}

func runImagesList(ctx context.Context, app *App, chatID string) error {
	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	records, err := sess.svc.Images(ctx, chatID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(app.Out, "No images found.")
		return nil
	}
	printRecords(app, records, 0)
	fmt.Fprintf(app.Out, "\n%d images (%d generated)\n", len(records), image.CountGenerated(records))
	return nil
}

func newImagesBatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <chat-id> <index>",
		Short: "Show the comparison batch around an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[1], err)
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runImagesBatch(ctx, app, args[0], index)
		},
	}
}

func runImagesBatch(ctx context.Context, app *App, chatID string, index int) error {
	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	batch, err := sess.svc.Batch(ctx, chatID, index)
	if err != nil {
		return err
	}
	if len(batch) == 1 {
		fmt.Fprintln(app.Out, "Single image (no batch):")
	} else {
		fmt.Fprintf(app.Out, "Batch of %d:\n", len(batch))
	}
	printRecords(app, batch, -1)
	return nil
}

func newImagesDownloadCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <chat-id>",
		Short: "Download the images of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runImagesDownload(ctx, app, cmd, args[0])
		},
	}
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory (defaults to output.dir/images-<chat-id>)")
	cmd.Flags().BoolVar(&flagExcludePortraits, "exclude-portraits", false, "skip character portraits (defaults to the exclude_portraits preference)")
	cmd.Flags().IntSliceVar(&flagIndex, "index", nil, "download only these image indices (see 'images list')")
	return cmd
}

func runImagesDownload(ctx context.Context, app *App, cmd *cobra.Command, chatID string) error {
	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	exclude := flagExcludePortraits
	if !cmd.Flags().Changed("exclude-portraits") {
		exclude, err = sess.store.Pref(ctx, store.PrefExcludePortraits, false)
		if err != nil {
			return err
		}
	}

	dir := flagOutput
	if dir == "" {
		dir = imagesDir(sess.cfg, chatID)
	}

	results, summary, err := sess.svc.DownloadImages(ctx, chatID, dir, exporter.DownloadOptions{
		ExcludePortraits: exclude,
		Indices:          flagIndex,
	})
	if err != nil && summary.Total == 0 {
		return err
	}

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(app.Err, "Failed: %s: %v\n", r.Record.URL, r.Err)
			continue
		}
		fmt.Fprintf(app.Out, "Saved: %s\n", r.Path)
	}
	fmt.Fprintf(app.Out, "Downloaded %d of %d images (%s), %d failed\n",
		summary.Saved, summary.Total, humanize.Bytes(uint64(summary.Bytes)), summary.Failed)
	return err
}

func newImagesShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <chat-id> <index>",
		Short: "Draw an image inline (Kitty graphics terminals)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[1], err)
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runImagesShow(ctx, app, args[0], index)
		},
	}
	cmd.Flags().BoolVar(&flagForcePreview, "force", false, "draw even if the terminal is not detected as supported")
	return cmd
}

func runImagesShow(ctx context.Context, app *App, chatID string, index int) error {
	if !flagForcePreview && !preview.Supported(app.GetEnv) {
		return preview.ErrUnsupportedTerminal
	}

	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	records, err := sess.svc.Images(ctx, chatID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(records) {
		return fmt.Errorf("image index %d out of range (chat has %d)", index, len(records))
	}

	opts := []preview.Option{preview.WithURLValidator(imageURLValidator(sess.cfg))}
	if app.HTTPClient != nil {
		opts = append(opts, preview.WithHTTPClient(app.HTTPClient))
	}
	opts = append(opts, app.PreviewOptions...)
	return preview.New(app.Out, opts...).Show(ctx, records[index])
}

// printRecords lists records numbered from start; a negative start omits numbers.
func printRecords(app *App, records []models.ImageRecord, start int) {
	for i, r := range records {
		prefix := ""
		if start >= 0 {
			prefix = fmt.Sprintf("%3d  ", start+i)
		}
		when := ""
		if r.TimestampMs > 0 {
			when = humanize.Time(msTime(r.TimestampMs))
		}
		fmt.Fprintf(app.Out, "%s%-34s  %-14s  %s\n", prefix, r.Source, when, r.URL)
	}
}
