package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const DefaultPageSize = 500

type chatsPage struct {
	Chats []chatWire      `json:"chats"`
	Error json.RawMessage `json:"error,omitempty"`
}

type chatWire struct {
	UUID       string           `json:"uuid"`
	Name       string           `json:"name"`
	CreatedAt  string           `json:"created_at"`
	Characters []map[string]any `json:"characters"`
}

type messagesPage struct {
	Messages []messageWire   `json:"messages"`
	Error    json.RawMessage `json:"error,omitempty"`
}

type messageWire struct {
	UUID              string                    `json:"uuid"`
	CreatedAt         string                    `json:"created_at"`
	MessageSource     string                    `json:"message_source"`
	Message           string                    `json:"message"`
	Character         map[string]any            `json:"character"`
	CharacterUUID     string                    `json:"character_uuid"`
	CharacterNickname string                    `json:"character_nickname"`
	Variations        []variationWire           `json:"message_variations"`
	Attachments       []any                     `json:"attachments"`
	TextToImage       models.TextToImagePayload `json:"text_to_image"`
}

type variationWire struct {
	UUID    string `json:"uuid"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

type characterWire struct {
	UUID         string          `json:"uuid"`
	CharName     string          `json:"char_name"`
	Name         string          `json:"name"`
	CharGreeting string          `json:"char_greeting"`
	Greeting     string          `json:"greeting"`
	Error        json.RawMessage `json:"error,omitempty"`
}

// ChatPage fetches one page of the chat list. A 404 yields an empty page.
func (c *Client) ChatPage(ctx context.Context, offset, limit int) ([]models.ChatSummary, error) {
	resp, err := c.Get(ctx, fmt.Sprintf("/v1/chats?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return nil, err
	}
	if !resp.Found() {
		return nil, nil
	}

	var page chatsPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse chats: %w", err)
	}
	if hasError(page.Error) {
		return nil, fmt.Errorf("%w: %s", ErrAPI, errorText(page.Error))
	}

	chats := make([]models.ChatSummary, 0, len(page.Chats))
	for _, w := range page.Chats {
		chat := models.ChatSummary{
			UUID:      w.UUID,
			Name:      w.Name,
			CreatedAt: ParseTime(w.CreatedAt),
		}
		for _, raw := range w.Characters {
			chat.Characters = append(chat.Characters, characterRef(raw))
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// MessagePage fetches one page of a chat's messages. A 404 yields an empty page.
func (c *Client) MessagePage(ctx context.Context, chatID string, offset, limit int) ([]models.Message, error) {
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	path := fmt.Sprintf("/v1/chats/%s/messages?limit=%d&offset=%d", url.PathEscape(chatID), limit, offset)
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !resp.Found() {
		return nil, nil
	}

	var page messagesPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	if hasError(page.Error) {
		return nil, fmt.Errorf("%w: %s", ErrAPI, errorText(page.Error))
	}

	messages := make([]models.Message, 0, len(page.Messages))
	for _, w := range page.Messages {
		messages = append(messages, w.toModel())
	}
	return messages, nil
}

// Character fetches character metadata. ErrNotFound is returned for 404.
func (c *Client) Character(ctx context.Context, characterID string) (*models.Character, error) {
	resp, err := c.Get(ctx, "/v1/characters/"+url.PathEscape(characterID))
	if err != nil {
		return nil, err
	}
	if !resp.Found() {
		return nil, fmt.Errorf("character %s: %w", characterID, ErrNotFound)
	}

	var w characterWire
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return nil, fmt.Errorf("failed to parse character: %w", err)
	}
	if hasError(w.Error) {
		return nil, fmt.Errorf("%w: %s", ErrAPI, errorText(w.Error))
	}

	return &models.Character{
		UUID:     firstNonEmpty(w.UUID, characterID),
		Name:     firstNonEmpty(w.CharName, w.Name),
		Greeting: firstNonEmpty(w.CharGreeting, w.Greeting),
	}, nil
}

func (w messageWire) toModel() models.Message {
	msg := models.Message{
		UUID:              w.UUID,
		CreatedAt:         ParseTime(w.CreatedAt),
		AuthorRole:        models.RoleBot,
		Text:              w.Message,
		CharacterUUID:     w.CharacterUUID,
		CharacterNickname: w.CharacterNickname,
	}
	if strings.EqualFold(w.MessageSource, string(models.RoleUser)) {
		msg.AuthorRole = models.RoleUser
	}
	if w.Character != nil {
		if msg.CharacterUUID == "" {
			msg.CharacterUUID = stringField(w.Character, "uuid")
		}
		if msg.CharacterNickname == "" {
			msg.CharacterNickname = stringField(w.Character, "nickname", "name", "char_name")
		}
	}
	for _, v := range w.Variations {
		msg.Variations = append(msg.Variations, models.Variation{
			UUID: v.UUID,
			Text: firstNonEmpty(v.Message, v.Text),
		})
	}
	for _, a := range w.Attachments {
		if u := urlOf(a); u != "" {
			msg.Attachments = append(msg.Attachments, models.Attachment{URL: u})
		}
	}
	if len(w.TextToImage) > 0 {
		msg.TextToImage = w.TextToImage
	}
	return msg
}

func characterRef(raw map[string]any) models.CharacterRef {
	return models.CharacterRef{
		UUID:                stringField(raw, "uuid"),
		Name:                stringField(raw, "name", "char_name", "nickname"),
		ThumbnailURL:        stringField(raw, "thumbnail_url", "thumbnail", "photo_url", "avatar_url"),
		ForegroundPhotoURLs: urlList(raw, "foreground_photo_urls", "foreground_photos", "photos"),
		BackgroundPhotoURLs: urlList(raw, "background_photo_urls", "background_photos"),
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// urlList reads the first present key holding either strings or objects
// with a url-like member.
func urlList(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		items, ok := m[k].([]any)
		if !ok {
			continue
		}
		var urls []string
		for _, item := range items {
			if u := urlOf(item); u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	}
	return nil
}

func urlOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return stringField(t, "url", "photo_url", "image_url")
	}
	return ""
}

func hasError(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "false", `""`, "{}", "0":
		return false
	}
	return true
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime accepts the timestamp shapes the API emits and returns UTC.
// Unparseable input yields the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
