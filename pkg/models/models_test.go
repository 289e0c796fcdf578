package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestExportFormat_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		format ExportFormat
		want   bool
	}{
		{"plain text", FormatPlainText, true},
		{"sillytavern", FormatJSONLSillyTavern, true},
		{"openai", FormatJSONLOpenAI, true},
		{"full json", FormatFullJSON, true},
		{"html", FormatHTML, true},
		{"invalid format", ExportFormat("pdf"), false},
		{"empty format", ExportFormat(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.IsValid(); got != tt.want {
				t.Errorf("ExportFormat.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExportFormat_Extension(t *testing.T) {
	tests := []struct {
		format ExportFormat
		ext    string
		ctype  string
	}{
		{FormatPlainText, "txt", "text/plain; charset=utf-8"},
		{FormatJSONLSillyTavern, "jsonl", "application/jsonl"},
		{FormatJSONLOpenAI, "jsonl", "application/jsonl"},
		{FormatFullJSON, "json", "application/json"},
		{FormatHTML, "html", "text/html; charset=utf-8"},
		{ExportFormat("pdf"), "", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.Extension(); got != tt.ext {
				t.Errorf("Extension() = %q, want %q", got, tt.ext)
			}
			if got := tt.format.ContentType(); got != tt.ctype {
				t.Errorf("ContentType() = %q, want %q", got, tt.ctype)
			}
		})
	}
}

func TestSortMessages(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	in := []Message{
		{UUID: "c", CreatedAt: base.Add(2 * time.Second)},
		{UUID: "a", CreatedAt: base},
		{UUID: "b1", CreatedAt: base.Add(time.Second)},
		{UUID: "b2", CreatedAt: base.Add(time.Second)},
	}

	got := SortMessages(in)
	want := []string{"a", "b1", "b2", "c"}
	for i, id := range want {
		if got[i].UUID != id {
			t.Fatalf("SortMessages()[%d] = %s, want %s", i, got[i].UUID, id)
		}
	}
	if in[0].UUID != "c" {
		t.Error("SortMessages() modified its input")
	}
}

func TestTextToImagePayload_Seed(t *testing.T) {
	tests := []struct {
		name    string
		payload TextToImagePayload
		want    string
		wantOK  bool
	}{
		{"nil payload", nil, "", false},
		{"missing", TextToImagePayload{"prompt": "x"}, "", false},
		{"null", TextToImagePayload{"seed": nil}, "", false},
		{"float integer", TextToImagePayload{"seed": float64(42)}, "42", true},
		{"large json number", TextToImagePayload{"seed": float64(1234567890123)}, "1234567890123", true},
		{"fraction", TextToImagePayload{"seed": 1.5}, "1.5", true},
		{"string", TextToImagePayload{"seed": "abc"}, "abc", true},
		{"json number", TextToImagePayload{"seed": json.Number("9007199254740993")}, "9007199254740993", true},
		{"empty string", TextToImagePayload{"seed": ""}, "", false},
		{"bool", TextToImagePayload{"seed": true}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.payload.Seed()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Seed() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTextToImagePayload_UnmarshalKeepsSeedExact(t *testing.T) {
	var a, b TextToImagePayload
	if err := json.Unmarshal([]byte(`{"seed":9007199254740993,"prompt":"x"}`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"seed":9007199254740992}`), &b); err != nil {
		t.Fatal(err)
	}
	sa, _ := a.Seed()
	sb, _ := b.Seed()
	if sa != "9007199254740993" || sa == sb {
		t.Errorf("Seed() = %q and %q, want distinct exact values", sa, sb)
	}
	if a.Prompt() != "x" {
		t.Errorf("Prompt() = %q", a.Prompt())
	}

	// Cached messages are re-encoded and decoded again.
	msg := Message{UUID: "m", TextToImage: a}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if got, _ := back.TextToImage.Seed(); got != "9007199254740993" {
		t.Errorf("Seed() after round trip = %q", got)
	}
}

func TestTextToImagePayload_Prompt(t *testing.T) {
	if got := (TextToImagePayload{"prompt": "a fox"}).Prompt(); got != "a fox" {
		t.Errorf("Prompt() = %q", got)
	}
	if got := (TextToImagePayload{"positive_prompt": "a cat", "prompt": 3}).Prompt(); got != "a cat" {
		t.Errorf("Prompt() fallback = %q", got)
	}
	if got := TextToImagePayload(nil).Prompt(); got != "" {
		t.Errorf("nil Prompt() = %q", got)
	}
}

func TestImageRecord_IsPortrait(t *testing.T) {
	for source, want := range map[string]bool{
		SourceCharacterPhoto:      true,
		SourceCharacterBackground: true,
		SourceOutputImage:         false,
		"image_urls[0]":           false,
	} {
		if got := (ImageRecord{Source: source}).IsPortrait(); got != want {
			t.Errorf("IsPortrait(%s) = %v, want %v", source, got, want)
		}
	}
}

func TestChatSummary_PrimaryCharacter(t *testing.T) {
	if _, ok := (ChatSummary{}).PrimaryCharacter(); ok {
		t.Error("PrimaryCharacter() of empty chat reported ok")
	}
	c := ChatSummary{Characters: []CharacterRef{{Name: "Aria"}, {Name: "Bo"}}}
	if ch, ok := c.PrimaryCharacter(); !ok || ch.Name != "Aria" {
		t.Errorf("PrimaryCharacter() = %+v, %v", ch, ok)
	}
}
