// Package export renders a chat into the portable output formats.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/security"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const (
	UserLabel             = "You"
	UnknownCharacterLabel = "Unknown Character"
	Source                = "moescape"

	maxTitleRunes = 100
)

// Input is everything a format needs. Messages may be in any order.
type Input struct {
	Messages      []models.Message
	CharacterName string
	Greeting      string
	// Images are the chat's extracted records; only the HTML format uses them.
	Images []models.ImageRecord
	Now    time.Time
}

type Result struct {
	Filename    string
	ContentType string
	Data        []byte
}

type renderer func(Input, []models.Message) ([]byte, error)

var renderers = map[models.ExportFormat]renderer{
	models.FormatPlainText:        renderPlainText,
	models.FormatJSONLSillyTavern: renderSillyTavern,
	models.FormatJSONLOpenAI:      renderOpenAI,
	models.FormatFullJSON:         renderFullJSON,
	models.FormatHTML:             renderHTML,
}

// Render serializes in into format. Messages are sorted ascending by
// creation time first.
func Render(in Input, format models.ExportFormat) (*Result, error) {
	render, ok := renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s (valid: %s)", models.ErrInvalidFormat, format, formatList())
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	sorted := models.SortMessages(in.Messages)

	data, err := render(in, sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", format, err)
	}
	return &Result{
		Filename:    Filename(in.CharacterName, in.Now, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

// Filename derives "Chat with {name} {YYYY-MM-DD}.{ext}" with the title
// part made safe for any filesystem.
func Filename(characterName string, date time.Time, format models.ExportFormat) string {
	name := strings.TrimSpace(characterName)
	if name == "" {
		name = UnknownCharacterLabel
	}
	title := fmt.Sprintf("Chat with %s %s", name, date.Format("2006-01-02"))
	return security.SanitizeFilename(title, maxTitleRunes) + "." + format.Extension()
}

func characterLabel(in Input) string {
	if name := strings.TrimSpace(in.CharacterName); name != "" {
		return name
	}
	return UnknownCharacterLabel
}

// speaker is the display name of a message's author.
func speaker(in Input, msg models.Message) string {
	if msg.IsUser() {
		return UserLabel
	}
	if nick := strings.TrimSpace(msg.CharacterNickname); nick != "" {
		return nick
	}
	return characterLabel(in)
}

func formatList() string {
	formats := models.ValidFormats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}
