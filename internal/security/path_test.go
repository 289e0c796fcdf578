package security

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  error
	}{
		{"export file", "Chat with Aria 2024-05-01.txt", nil},
		{"image file", "001-output.png", nil},
		{"empty", "", ErrEmptyName},
		{"forward slash", "out/chat.txt", ErrPathSeparator},
		{"backslash", `out\chat.txt`, ErrPathSeparator},
		{"dot dot", "..", ErrPathTraversal},
		{"embedded dot dot", "a..b.txt", ErrPathTraversal},
		{"reserved CON", "CON.txt", ErrReservedName},
		{"reserved lpt1", "lpt1.html", ErrReservedName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateFilename(%q) error = %v, want nil", tt.filename, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFilename(%q) error = %v, want %v", tt.filename, err, tt.wantErr)
			}
		})
	}

	if err := ValidateFilename("-flag.txt"); err == nil {
		t.Error("leading hyphen should be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Chat with Aria 2024-05-01", "Chat with Aria 2024-05-01"},
		{"illegal characters", `Chat with A<r>i:a/"x"\|?* 2024-05-01`, "Chat with Ariax 2024-05-01"},
		{"collapse whitespace", "Chat  with\t\tAria\n2024-05-01", "Chat with Aria 2024-05-01"},
		{"control characters", "Chat\x00with\x07Aria", "ChatwithAria"},
		{"leading dots", "..hidden", "hidden"},
		{"trailing dots and spaces", "name. . ", "name"},
		{"reserved", "con", "con_"},
		{"reserved with extension", "CON.txt", "CON_.txt"},
		{"trailing ellipsis", "Miku...", "Miku"},
		{"inner ellipsis", "Wait... what", "Wait. what"},
		{"dot runs", "a....b", "a.b"},
		{"empty after cleaning", "???", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input, 0); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_OutputIsValid(t *testing.T) {
	inputs := []string{
		"...", "-x", "con", "a....b", "Miku...", "Wait... what",
		"lpt1.html", "- .. -", ". . .", "..\\..//etc", "NUL", "--help",
		"Chat with Miku... 2024-01-01", strings.Repeat(".", 120) + "x",
		strings.Repeat("a.", 80),
	}
	for _, in := range inputs {
		got := SanitizeFilename(in, 0)
		if err := ValidateFilename(got); err != nil {
			t.Errorf("SanitizeFilename(%q) = %q, rejected by ValidateFilename: %v", in, got, err)
		}
	}
}

func TestSanitizeFilename_CapsLength(t *testing.T) {
	long := "Chat with " + strings.Repeat("é", 300)
	got := SanitizeFilename(long, 0)
	if n := utf8.RuneCountInString(got); n != DefaultMaxFilenameRunes {
		t.Errorf("rune count = %d, want %d", n, DefaultMaxFilenameRunes)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}

	if got := SanitizeFilename("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeFilename(max 3) = %q, want abc", got)
	}
}
