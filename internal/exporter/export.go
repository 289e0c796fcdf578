package exporter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/export"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/store"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

// Outcome describes a written export.
type Outcome struct {
	ID       string
	Result   *export.Result
	Location string
	Messages int
}

// Export renders a chat in format and writes it to the sink.
func (s *Service) Export(ctx context.Context, chatID string, format models.ExportFormat) (*Outcome, error) {
	if !format.IsValid() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidFormat, format)
	}
	release, err := s.acquire("export", chatID)
	if err != nil {
		return nil, err
	}
	defer release()

	runID := uuid.NewString()
	log := s.log.With("run", runID, "chat", chatID, "format", format.String())
	log.Info("export started")

	chat, err := s.Chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ch, err := s.Character(ctx, chat)
	if err != nil {
		return nil, err
	}

	now := s.now()
	in := export.Input{
		Messages:      msgs,
		CharacterName: ch.Name,
		Greeting:      ch.Greeting,
		Now:           now,
	}
	if format == models.FormatHTML {
		in.Images = image.Extract(msgs, chat.Characters, now)
	}

	res, err := export.Render(in, format)
	if err != nil {
		return nil, err
	}
	loc, err := s.sink.Put(ctx, res.Filename, res.ContentType, res.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}

	if s.history != nil {
		entry := &store.ExportEntry{
			ID:        runID,
			ChatID:    chatID,
			Format:    format.String(),
			Location:  loc,
			Bytes:     int64(len(res.Data)),
			Timestamp: now.UTC(),
		}
		if err := s.history.LogExport(ctx, entry); err != nil {
			log.Warn("failed to record export", "error", err)
		}
	}

	log.Info("export complete", "messages", len(msgs), "bytes", len(res.Data), "location", loc)
	return &Outcome{ID: runID, Result: res, Location: loc, Messages: len(msgs)}, nil
}
