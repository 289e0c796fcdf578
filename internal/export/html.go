package export

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

// Prefixes of messages that only ask for an image.
var imageCommands = []string{"/imagine", "/image", "/img", "/selfie", "/generate", "/draw", "/pic"}

type htmlBlock struct {
	Speaker   string
	Time      string
	Text      string
	IsUser    bool
	ImageOnly bool
	Images    []string
}

type htmlPage struct {
	Title    string
	Exported string
	Blocks   []htmlBlock
}

var pageTemplate = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{margin:0;padding:24px;background:#15161a;color:#e6e6e6;font:15px/1.5 system-ui,sans-serif}
main{max-width:820px;margin:0 auto}
h1{font-size:20px;font-weight:600;margin:0 0 4px}
.exported{color:#8a8f98;font-size:12px;margin-bottom:24px}
.msg{background:#202228;border-radius:10px;padding:12px 16px;margin:0 0 14px}
.msg.user{background:#1d2a3a}
.who{font-weight:600;margin-right:8px}
.when{color:#8a8f98;font-size:12px}
.text{white-space:pre-wrap;margin-top:6px}
.images{display:flex;flex-wrap:wrap;gap:8px;margin-top:8px}
.images img{max-width:100%;border-radius:8px}
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<div class="exported">Exported {{.Exported}}</div>
{{range .Blocks}}<div class="msg{{if .IsUser}} user{{end}}">
<span class="who">{{.Speaker}}</span><span class="when">{{.Time}}</span>
{{if not .ImageOnly}}<div class="text">{{.Text}}</div>
{{end}}{{if .Images}}<div class="images">{{range .Images}}<img src="{{.}}" alt="" loading="lazy">{{end}}</div>
{{end}}</div>
{{end}}</main>
</body>
</html>
`))

func renderHTML(in Input, messages []models.Message) ([]byte, error) {
	char := characterLabel(in)
	page := htmlPage{
		Title:    "Chat with " + char,
		Exported: in.Now.UTC().Format("2006-01-02 15:04 MST"),
	}
	if in.Greeting != "" {
		page.Blocks = append(page.Blocks, htmlBlock{Speaker: char, Text: in.Greeting})
	}
	for _, msg := range messages {
		images := fullSizeImages(image.ForMessage(in.Images, msg.UUID))
		page.Blocks = append(page.Blocks, htmlBlock{
			Speaker:   speaker(in, msg),
			Time:      msg.CreatedAt.UTC().Format("2006-01-02 15:04"),
			Text:      msg.Text,
			IsUser:    msg.IsUser(),
			ImageOnly: len(images) > 0 && IsImageCommand(msg.Text),
			Images:    images,
		})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsImageCommand reports whether text is nothing but an image generation
// command such as "/imagine a cat".
func IsImageCommand(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	for _, cmd := range imageCommands {
		if fields[0] == cmd {
			return true
		}
	}
	return false
}

func fullSizeImages(records []models.ImageRecord) []string {
	var out []string
	for _, r := range records {
		if !image.IsThumbnail(r.URL) {
			out = append(out, r.URL)
		}
	}
	return out
}
