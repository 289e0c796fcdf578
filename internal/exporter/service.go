// Package exporter is the session service tying retrieval, caching, image
// extraction and export together. One Service lives for the whole session.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/api"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/cache"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/logger"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/paginate"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/sink"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/store"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const (
	DefaultCountBatchSize  = 5
	DefaultCountBatchDelay = time.Second
)

var (
	ErrBusy          = errors.New("action already in progress")
	ErrInvalidChatID = errors.New("invalid chat identifier")
	ErrChatNotFound  = errors.New("chat not found")
)

// ChatClient is the subset of the remote API the service reads from.
type ChatClient interface {
	ChatPage(ctx context.Context, offset, limit int) ([]models.ChatSummary, error)
	MessagePage(ctx context.Context, chatID string, offset, limit int) ([]models.Message, error)
	Character(ctx context.Context, characterID string) (*models.Character, error)
}

type Downloader interface {
	SaveAll(ctx context.Context, records []models.ImageRecord, dir string) ([]image.Result, image.Summary, error)
}

// History records written artifacts. *store.Store implements it.
type History interface {
	LogExport(ctx context.Context, e *store.ExportEntry) error
}

type Deps struct {
	Client ChatClient
	Cache  *cache.Store
	Log    *logger.Logger
	Saver  Downloader
	Sink   sink.Sink
	// History is optional.
	History History

	PageSize        int
	CountBatchSize  int
	CountBatchDelay time.Duration
	Sleep           func(ctx context.Context, d time.Duration) error
	Now             func() time.Time
}

type Service struct {
	client  ChatClient
	cache   *cache.Store
	log     *logger.Logger
	saver   Downloader
	sink    sink.Sink
	history History

	pageSize   int
	batchSize  int
	batchDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu   sync.Mutex
	busy map[string]struct{}
}

func New(d Deps) *Service {
	s := &Service{
		client:     d.Client,
		cache:      d.Cache,
		log:        d.Log,
		saver:      d.Saver,
		sink:       d.Sink,
		history:    d.History,
		pageSize:   d.PageSize,
		batchSize:  d.CountBatchSize,
		batchDelay: d.CountBatchDelay,
		sleep:      d.Sleep,
		now:        d.Now,
		busy:       make(map[string]struct{}),
	}
	if s.cache == nil {
		s.cache = cache.New(cache.NewMemoryBackend())
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.saver == nil {
		s.saver = image.NewSaver()
	}
	if s.sink == nil {
		s.sink = sink.NewLocal(".")
	}
	if s.pageSize <= 0 {
		s.pageSize = api.DefaultPageSize
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultCountBatchSize
	}
	if s.batchDelay < 0 {
		s.batchDelay = 0
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// acquire marks action on chatID as running. The returned func releases it.
func (s *Service) acquire(action, chatID string) (func(), error) {
	key := action + ":" + chatID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[key]; ok {
		return nil, fmt.Errorf("%s %s: %w", action, chatID, ErrBusy)
	}
	s.busy[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.busy, key)
		s.mu.Unlock()
	}, nil
}

// ValidateChatID checks that id is a UUID as issued by the service.
func ValidateChatID(id string) error {
	if strings.TrimSpace(id) == "" {
		return models.ErrEmptyChatID
	}
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidChatID, id, err)
	}
	return nil
}

// ListChats materializes the whole chat list, from cache when fresh.
// Cached image counts are attached to the returned summaries.
func (s *Service) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	eng := paginate.New(s.client.ChatPage, s.pageSize,
		paginate.WithCache(
			func() ([]models.ChatSummary, bool) { return s.cache.Chats(ctx) },
			func(chats []models.ChatSummary) { s.cache.SetChats(ctx, chats) },
		),
		paginate.WithObserver[models.ChatSummary](s.observe("chats", "")),
	)
	chats, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	for i := range chats {
		if n, ok := s.cache.ImageCount(ctx, chats[i].UUID); ok {
			chats[i].ImageCount = &n
		}
	}
	return chats, nil
}

// Chat returns the summary of one chat from the chat list.
func (s *Service) Chat(ctx context.Context, chatID string) (*models.ChatSummary, error) {
	if err := ValidateChatID(chatID); err != nil {
		return nil, err
	}
	chats, err := s.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		if chats[i].UUID == chatID {
			return &chats[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
}

// Messages materializes every message of a chat in server order.
func (s *Service) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	if err := ValidateChatID(chatID); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, offset, limit int) ([]models.Message, error) {
		return s.client.MessagePage(ctx, chatID, offset, limit)
	}
	eng := paginate.New(fetch, s.pageSize,
		paginate.WithCache(
			func() ([]models.Message, bool) { return s.cache.Messages(ctx, chatID) },
			func(msgs []models.Message) { s.cache.SetMessages(ctx, chatID, msgs) },
		),
		paginate.WithObserver[models.Message](s.observe("messages", chatID)),
	)
	msgs, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages of %s: %w", chatID, err)
	}
	return msgs, nil
}

// Character resolves the display name and greeting of a chat's primary
// character. A character the API no longer knows falls back to the name
// on the chat summary without a greeting.
func (s *Service) Character(ctx context.Context, chat *models.ChatSummary) (*models.Character, error) {
	ref, ok := chat.PrimaryCharacter()
	if !ok {
		return &models.Character{}, nil
	}
	if ref.UUID == "" {
		return &models.Character{Name: ref.Name}, nil
	}
	ch, err := s.client.Character(ctx, ref.UUID)
	if errors.Is(err, api.ErrNotFound) {
		s.log.Warn("character not found", "character", ref.UUID, "chat", chat.UUID)
		return &models.Character{UUID: ref.UUID, Name: ref.Name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load character %s: %w", ref.UUID, err)
	}
	if ch.Name == "" {
		ch.Name = ref.Name
	}
	return ch, nil
}

// Refresh drops the cached messages and image count of a chat.
func (s *Service) Refresh(ctx context.Context, chatID string) {
	s.cache.Invalidate(ctx, chatID)
}

func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

func (s *Service) observe(collection, chatID string) func(paginate.State, int) {
	return func(state paginate.State, offset int) {
		s.log.Debug("pagination", "collection", collection, "chat", chatID, "state", state.String(), "offset", offset)
	}
}

// SortByImageCount orders chats by descending image count. Chats without a
// count go last; ties keep their order.
func SortByImageCount(chats []models.ChatSummary) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i].ImageCount, chats[j].ImageCount
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a > *b
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
