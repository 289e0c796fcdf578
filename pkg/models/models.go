package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"time"
)

var (
	ErrInvalidFormat = errors.New("invalid export format")
	ErrEmptyChatID   = errors.New("chat identifier cannot be empty")
)

type AuthorRole string

const (
	RoleUser AuthorRole = "user"
	RoleBot  AuthorRole = "bot"
)

type CharacterRef struct {
	UUID                string   `json:"uuid"`
	Name                string   `json:"name"`
	ThumbnailURL        string   `json:"thumbnail_url,omitempty"`
	ForegroundPhotoURLs []string `json:"foreground_photo_urls,omitempty"`
	BackgroundPhotoURLs []string `json:"background_photo_urls,omitempty"`
}

type ChatSummary struct {
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	CreatedAt  time.Time      `json:"created_at"`
	ImageCount *int           `json:"image_count,omitempty"`
	Characters []CharacterRef `json:"characters,omitempty"`
}

// PrimaryCharacter returns the first character of the chat, if any.
func (c ChatSummary) PrimaryCharacter() (CharacterRef, bool) {
	if len(c.Characters) == 0 {
		return CharacterRef{}, false
	}
	return c.Characters[0], true
}

type Variation struct {
	UUID string `json:"uuid"`
	Text string `json:"text"`
}

type Attachment struct {
	URL string `json:"url"`
}

// TextToImagePayload is the loosely shaped generation document attached to
// a message. Keys vary between records and are inspected, never assumed.
type TextToImagePayload map[string]any

// UnmarshalJSON keeps numbers as json.Number so 64-bit seeds stay exact.
func (p *TextToImagePayload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*p = m
	return nil
}

// String returns the string value stored under key, or "".
func (p TextToImagePayload) String(key string) string {
	if p == nil {
		return ""
	}
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// FirstString returns the first non-empty string among keys.
func (p TextToImagePayload) FirstString(keys ...string) string {
	for _, k := range keys {
		if s := p.String(k); s != "" {
			return s
		}
	}
	return ""
}

func (p TextToImagePayload) Prompt() string {
	return p.FirstString("prompt", "positive_prompt")
}

// Seed renders the seed as a comparable string; numbers and strings both occur.
func (p TextToImagePayload) Seed() (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p["seed"]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, s != ""
	case json.Number:
		return s.String(), s != ""
	case float64:
		return formatNumber(s), true
	case int:
		return formatNumber(float64(s)), true
	case int64:
		return formatNumber(float64(s)), true
	}
	return "", false
}

type Message struct {
	UUID              string             `json:"uuid"`
	CreatedAt         time.Time          `json:"created_at"`
	AuthorRole        AuthorRole         `json:"author_role"`
	Text              string             `json:"text"`
	CharacterNickname string             `json:"character_nickname,omitempty"`
	CharacterUUID     string             `json:"character_uuid,omitempty"`
	Variations        []Variation        `json:"variations,omitempty"`
	TextToImage       TextToImagePayload `json:"text_to_image,omitempty"`
	Attachments       []Attachment       `json:"attachments,omitempty"`
}

func (m Message) IsUser() bool {
	return m.AuthorRole == RoleUser
}

// SortMessages returns a copy of messages ordered ascending by CreatedAt.
// Ties keep their retrieval order.
func SortMessages(messages []Message) []Message {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

type Character struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Greeting string `json:"greeting,omitempty"`
}

type ImageRecord struct {
	URL         string             `json:"url"`
	Message     string             `json:"message"`
	TimestampMs int64              `json:"timestamp_ms"`
	Source      string             `json:"source"`
	Model       string             `json:"model,omitempty"`
	MessageUUID string             `json:"message_uuid,omitempty"`
	TextToImage TextToImagePayload `json:"text_to_image,omitempty"`
}

// IsPortrait reports whether the record came from character metadata rather
// than a message.
func (r ImageRecord) IsPortrait() bool {
	return r.Source == SourceCharacterPhoto || r.Source == SourceCharacterBackground
}

const (
	SourceCharacterPhoto      = "character_photo"
	SourceCharacterBackground = "character_background"
	SourceOutputImage         = "text_to_image.output_image_url"
)

type ExportFormat string

const (
	FormatPlainText        ExportFormat = "txt"
	FormatJSONLSillyTavern ExportFormat = "sillytavern"
	FormatJSONLOpenAI      ExportFormat = "openai"
	FormatFullJSON         ExportFormat = "json"
	FormatHTML             ExportFormat = "html"
)

func ValidFormats() []ExportFormat {
	return []ExportFormat{FormatPlainText, FormatJSONLSillyTavern, FormatJSONLOpenAI, FormatFullJSON, FormatHTML}
}

func (f ExportFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f ExportFormat) String() string {
	return string(f)
}

// Extension is the file extension written for the format, without a dot.
func (f ExportFormat) Extension() string {
	switch f {
	case FormatPlainText:
		return "txt"
	case FormatJSONLSillyTavern, FormatJSONLOpenAI:
		return "jsonl"
	case FormatFullJSON:
		return "json"
	case FormatHTML:
		return "html"
	}
	return ""
}

func (f ExportFormat) ContentType() string {
	switch f {
	case FormatPlainText:
		return "text/plain; charset=utf-8"
	case FormatJSONLSillyTavern, FormatJSONLOpenAI:
		return "application/jsonl"
	case FormatFullJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}
