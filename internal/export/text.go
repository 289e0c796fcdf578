package export

import (
	"strings"

	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const blockSeparator = "\n\n\n"

func renderPlainText(in Input, messages []models.Message) ([]byte, error) {
	blocks := make([]string, 0, len(messages)+1)
	if in.Greeting != "" {
		blocks = append(blocks, characterLabel(in)+"\n\n"+in.Greeting)
	}
	for _, msg := range messages {
		blocks = append(blocks, speaker(in, msg)+"\n\n"+msg.Text)
	}
	return []byte(strings.Join(blocks, blockSeparator)), nil
}
