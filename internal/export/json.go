package export

import (
	"encoding/json"

	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

// Document is the FullJSON export. It keeps every variation with its id.
type Document struct {
	Source        string            `json:"source"`
	ExportedAt    string            `json:"exported_at"`
	CharacterName string            `json:"character_name"`
	Greeting      *string           `json:"greeting"`
	Messages      []DocumentMessage `json:"messages"`
}

type DocumentMessage struct {
	Author        string             `json:"author"`
	Role          string             `json:"role"`
	Timestamp     string             `json:"timestamp"`
	Text          string             `json:"text"`
	UUID          string             `json:"uuid"`
	CharacterUUID string             `json:"character_uuid"`
	Variations    []models.Variation `json:"variations"`
}

func renderFullJSON(in Input, messages []models.Message) ([]byte, error) {
	doc := Document{
		Source:        Source,
		ExportedAt:    formatTimestamp(in.Now),
		CharacterName: characterLabel(in),
		Messages:      make([]DocumentMessage, 0, len(messages)),
	}
	if in.Greeting != "" {
		g := in.Greeting
		doc.Greeting = &g
	}
	for _, msg := range messages {
		variations := msg.Variations
		if variations == nil {
			variations = []models.Variation{}
		}
		role := string(models.RoleBot)
		if msg.IsUser() {
			role = string(models.RoleUser)
		}
		doc.Messages = append(doc.Messages, DocumentMessage{
			Author:        speaker(in, msg),
			Role:          role,
			Timestamp:     formatTimestamp(msg.CreatedAt),
			Text:          msg.Text,
			UUID:          msg.UUID,
			CharacterUUID: msg.CharacterUUID,
			Variations:    variations,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
