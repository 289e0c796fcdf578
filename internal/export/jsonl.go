package export

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

// Offset of the synthesized greeting before the first real message.
const greetingLead = time.Hour

type sillyTavernHeader struct {
	UserName      string `json:"user_name"`
	CharacterName string `json:"character_name"`
}

type sillyTavernLine struct {
	Name     string   `json:"name"`
	IsUser   bool     `json:"is_user"`
	IsName   bool     `json:"is_name"`
	SendDate int64    `json:"send_date"`
	Mes      string   `json:"mes"`
	Swipes   []string `json:"swipes"`
	SwipeID  int      `json:"swipe_id"`
}

type openAILine struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	Name      string   `json:"name,omitempty"`
	Images    []string `json:"images,omitempty"`
}

func renderSillyTavern(in Input, messages []models.Message) ([]byte, error) {
	char := characterLabel(in)
	lines := []any{sillyTavernHeader{UserName: UserLabel, CharacterName: char}}

	if in.Greeting != "" {
		lines = append(lines, sillyTavernLine{
			Name:     char,
			IsName:   true,
			SendDate: greetingTime(in, messages).UnixMilli(),
			Mes:      in.Greeting,
		})
	}
	for _, msg := range messages {
		swipes, active := swipes(msg)
		lines = append(lines, sillyTavernLine{
			Name:     speaker(in, msg),
			IsUser:   msg.IsUser(),
			IsName:   true,
			SendDate: msg.CreatedAt.UnixMilli(),
			Mes:      msg.Text,
			Swipes:   swipes,
			SwipeID:  active,
		})
	}
	return encodeLines(lines)
}

func renderOpenAI(in Input, messages []models.Message) ([]byte, error) {
	var lines []any
	if in.Greeting != "" {
		lines = append(lines, openAILine{
			Role:      "assistant",
			Content:   in.Greeting,
			Timestamp: formatTimestamp(greetingTime(in, messages)),
			Name:      characterLabel(in),
		})
	}
	for _, msg := range messages {
		line := openAILine{
			Role:      "assistant",
			Content:   msg.Text,
			Timestamp: formatTimestamp(msg.CreatedAt),
		}
		if msg.IsUser() {
			line.Role = "user"
		} else {
			line.Name = speaker(in, msg)
		}
		for _, a := range msg.Attachments {
			if a.URL != "" {
				line.Images = append(line.Images, a.URL)
			}
		}
		lines = append(lines, line)
	}
	return encodeLines(lines)
}

// swipes lists the variation texts and the index of the one shown as the
// message text. No variations yields nil and index 0.
func swipes(msg models.Message) ([]string, int) {
	if len(msg.Variations) == 0 {
		return nil, 0
	}
	texts := make([]string, len(msg.Variations))
	active := 0
	found := false
	for i, v := range msg.Variations {
		texts[i] = v.Text
		if !found && v.Text == msg.Text {
			active = i
			found = true
		}
	}
	return texts, active
}

func greetingTime(in Input, messages []models.Message) time.Time {
	if len(messages) > 0 {
		return messages[0].CreatedAt.Add(-greetingLead)
	}
	return in.Now.Add(-greetingLead)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func encodeLines(lines []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, l := range lines {
		// Encode terminates each value with a newline.
		if err := enc.Encode(l); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
