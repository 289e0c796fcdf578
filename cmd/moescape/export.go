package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/export"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/sink"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

var (
	flagFormat string
	flagLink   bool
)

const linkExpiry = 24 * time.Hour

func newMessagesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Print the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runMessages(ctx, app, args[0])
		},
	}
}

func runMessages(ctx context.Context, app *App, chatID string) error {
	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	msgs, err := sess.svc.Messages(ctx, chatID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(app.Out, "No messages found.")
		return nil
	}

	for _, m := range models.SortMessages(msgs) {
		who := export.UserLabel
		if !m.IsUser() {
			who = m.CharacterNickname
			if who == "" {
				who = export.UnknownCharacterLabel
			}
		}
		fmt.Fprintf(app.Out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, m.Text)
	}
	fmt.Fprintf(app.Out, "\n%s messages\n", humanize.Comma(int64(len(msgs))))
	return nil
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export a chat to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runExport(ctx, app, args[0])
		},
	}
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "txt", "export format ("+formatNames()+")")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory (defaults to output.dir)")
	cmd.Flags().BoolVar(&flagLink, "link", false, "print a 24h download link (minio storage only)")
	return cmd
}

func runExport(ctx context.Context, app *App, chatID string) error {
	format := models.ExportFormat(flagFormat)
	if !format.IsValid() {
		return fmt.Errorf("invalid format %q: must be one of %s", flagFormat, formatNames())
	}

	sess, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Fprintf(app.Out, "Exporting chat %s as %s...\n", chatID, format)
	out, err := sess.svc.Export(ctx, chatID, format)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Fprintf(app.Out, "Saved: %s (%d messages, %s)\n",
		out.Location, out.Messages, humanize.Bytes(uint64(len(out.Result.Data))))

	if !flagLink {
		return nil
	}
	linker, ok := sess.sink.(sink.Linker)
	if !ok {
		fmt.Fprintln(app.Err, "Download links need storage.backend: minio")
		return nil
	}
	link, err := linker.PresignedURL(ctx, out.Result.Filename, linkExpiry)
	if err != nil {
		return fmt.Errorf("failed to create download link: %w", err)
	}
	fmt.Fprintf(app.Out, "Link: %s\n", link)
	return nil
}

func formatNames() string {
	formats := models.ValidFormats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}
