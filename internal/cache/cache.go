// Package cache keeps recently materialized API collections in three
// namespaces, each with its own fixed time-to-live.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/logger"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

type Namespace string

const (
	NamespaceChats       Namespace = "chats"
	NamespaceMessages    Namespace = "messages"
	NamespaceImageCounts Namespace = "image_counts"
)

const (
	ChatsTTL       = 5 * time.Minute
	MessagesTTL    = 10 * time.Minute
	ImageCountsTTL = 30 * time.Minute

	chatListKey = "all"
)

// TTL returns the fixed lifetime of entries in ns.
func (ns Namespace) TTL() time.Duration {
	switch ns {
	case NamespaceChats:
		return ChatsTTL
	case NamespaceMessages:
		return MessagesTTL
	case NamespaceImageCounts:
		return ImageCountsTTL
	}
	return 0
}

// Entry is one cached value. Data holds the JSON encoding.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       time.Duration   `json:"ttl"`
}

func (e Entry) Valid(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL
}

// Backend persists entries. Implementations replace whole entries on Save.
type Backend interface {
	Load(ctx context.Context, ns Namespace, key string) (Entry, bool, error)
	Save(ctx context.Context, ns Namespace, key string, e Entry) error
	Delete(ctx context.Context, ns Namespace, key string) error
	Clear(ctx context.Context) error
}

type Store struct {
	backend Backend
	now     func() time.Time
	log     *logger.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

func New(backend Backend, opts ...Option) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{backend: backend, now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Chats(ctx context.Context) ([]models.ChatSummary, bool) {
	var chats []models.ChatSummary
	ok := s.get(ctx, NamespaceChats, chatListKey, &chats)
	return chats, ok
}

func (s *Store) SetChats(ctx context.Context, chats []models.ChatSummary) {
	s.set(ctx, NamespaceChats, chatListKey, chats)
}

func (s *Store) Messages(ctx context.Context, chatID string) ([]models.Message, bool) {
	var msgs []models.Message
	ok := s.get(ctx, NamespaceMessages, chatID, &msgs)
	return msgs, ok
}

func (s *Store) SetMessages(ctx context.Context, chatID string, msgs []models.Message) {
	s.set(ctx, NamespaceMessages, chatID, msgs)
}

func (s *Store) ImageCount(ctx context.Context, chatID string) (int, bool) {
	var n int
	ok := s.get(ctx, NamespaceImageCounts, chatID, &n)
	return n, ok
}

func (s *Store) SetImageCount(ctx context.Context, chatID string, n int) {
	s.set(ctx, NamespaceImageCounts, chatID, n)
}

// Invalidate drops the messages and image-count entries for chatID.
func (s *Store) Invalidate(ctx context.Context, chatID string) {
	for _, ns := range []Namespace{NamespaceMessages, NamespaceImageCounts} {
		if err := s.backend.Delete(ctx, ns, chatID); err != nil {
			s.log.Warn("cache delete failed", "namespace", ns, "key", chatID, "error", err)
		}
	}
}

func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Clear(ctx); err != nil {
		s.log.Warn("cache clear failed", "error", err)
	}
}

// get never fails: backend errors, expiry and undecodable data are misses.
func (s *Store) get(ctx context.Context, ns Namespace, key string, out any) bool {
	e, ok, err := s.backend.Load(ctx, ns, key)
	if err != nil {
		s.log.Warn("cache load failed", "namespace", ns, "key", key, "error", err)
		return false
	}
	if !ok || !e.Valid(s.now()) {
		return false
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		s.log.Warn("cache entry undecodable", "namespace", ns, "key", key, "error", err)
		return false
	}
	s.log.Debug("cache hit", "namespace", ns, "key", key)
	return true
}

func (s *Store) set(ctx context.Context, ns Namespace, key string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Warn("cache encode failed", "namespace", ns, "key", key, "error", err)
		return
	}
	e := Entry{Data: raw, Timestamp: s.now(), TTL: ns.TTL()}
	if err := s.backend.Save(ctx, ns, key, e); err != nil {
		s.log.Warn("cache save failed", "namespace", ns, "key", key, "error", err)
	}
}
