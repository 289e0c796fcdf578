package exporter

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

// Images returns the deduplicated image records of a chat, portraits
// included, and refreshes the chat's cached image count.
func (s *Service) Images(ctx context.Context, chatID string) ([]models.ImageRecord, error) {
	release, err := s.acquire("images", chatID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.images(ctx, chatID)
}

func (s *Service) images(ctx context.Context, chatID string) ([]models.ImageRecord, error) {
	chat, err := s.Chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	records := image.Extract(msgs, chat.Characters, s.now())
	s.cache.SetImageCount(ctx, chatID, s.countGenerated(msgs))
	return records, nil
}

// Batch returns the comparison batch around records[index] of a chat.
func (s *Service) Batch(ctx context.Context, chatID string, index int) ([]models.ImageRecord, error) {
	records, err := s.Images(ctx, chatID)
	if err != nil {
		return nil, err
	}
	batch := image.FindBatch(records, index)
	if batch == nil {
		return nil, fmt.Errorf("image index %d out of range (chat has %d)", index, len(records))
	}
	return batch, nil
}

// ImageCount is the number of generated images in a chat, portraits
// excluded.
func (s *Service) ImageCount(ctx context.Context, chatID string) (int, error) {
	if n, ok := s.cache.ImageCount(ctx, chatID); ok {
		return n, nil
	}
	msgs, err := s.Messages(ctx, chatID)
	if err != nil {
		return 0, err
	}
	n := s.countGenerated(msgs)
	s.cache.SetImageCount(ctx, chatID, n)
	return n, nil
}

// countGenerated counts message images without portraits, so a generated
// image that reuses a portrait URL is still counted.
func (s *Service) countGenerated(msgs []models.Message) int {
	return image.CountGenerated(image.Extract(msgs, nil, s.now()))
}

// FillImageCounts sets ImageCount on every chat that lacks one. Chats are
// counted in groups of the configured batch size with a pause between
// groups. A chat whose count fails is logged and left without one.
func (s *Service) FillImageCounts(ctx context.Context, chats []models.ChatSummary) error {
	var pending []int
	for i := range chats {
		if chats[i].ImageCount == nil {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += s.batchSize {
		if start > 0 {
			if err := s.sleep(ctx, s.batchDelay); err != nil {
				return err
			}
		}
		end := min(start+s.batchSize, len(pending))

		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range pending[start:end] {
			g.Go(func() error {
				n, err := s.ImageCount(gctx, chats[idx].UUID)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					s.log.Warn("image count failed", "chat", chats[idx].UUID, "error", err)
					return nil
				}
				chats[idx].ImageCount = &n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		s.log.Debug("image counts filled", "done", end, "total", len(pending))
	}
	return nil
}

type DownloadOptions struct {
	ExcludePortraits bool
	// Indices selects records by position; empty means all.
	Indices []int
}

// DownloadImages saves a chat's images into dir. Per-image failures are
// reported in the results and summary, not as an error.
func (s *Service) DownloadImages(ctx context.Context, chatID, dir string, opts DownloadOptions) ([]image.Result, image.Summary, error) {
	release, err := s.acquire("download", chatID)
	if err != nil {
		return nil, image.Summary{}, err
	}
	defer release()

	records, err := s.images(ctx, chatID)
	if err != nil {
		return nil, image.Summary{}, err
	}
	records, err = selectRecords(records, opts)
	if err != nil {
		return nil, image.Summary{}, err
	}

	log := s.log.With("chat", chatID, "dir", dir)
	log.Info("downloading images", "count", len(records))
	results, summary, err := s.saver.SaveAll(ctx, records, dir)
	for _, r := range results {
		if r.Err != nil {
			log.Warn("image download failed", "url", r.Record.URL, "error", r.Err)
		}
	}
	log.Info("images downloaded", "saved", summary.Saved, "failed", summary.Failed, "bytes", summary.Bytes)
	return results, summary, err
}

func selectRecords(records []models.ImageRecord, opts DownloadOptions) ([]models.ImageRecord, error) {
	if len(opts.Indices) > 0 {
		picked := make([]models.ImageRecord, 0, len(opts.Indices))
		for _, i := range opts.Indices {
			if i < 0 || i >= len(records) {
				return nil, fmt.Errorf("image index %d out of range (chat has %d)", i, len(records))
			}
			picked = append(picked, records[i])
		}
		records = picked
	}
	if !opts.ExcludePortraits {
		return records, nil
	}
	out := make([]models.ImageRecord, 0, len(records))
	for _, r := range records {
		if !r.IsPortrait() {
			out = append(out, r)
		}
	}
	return out, nil
}
