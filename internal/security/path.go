package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const DefaultMaxFilenameRunes = 100

var (
	ErrPathTraversal = fmt.Errorf("path traversal detected")
	ErrPathSeparator = fmt.Errorf("filename must not contain path separators")
	ErrReservedName  = fmt.Errorf("reserved filename not allowed")
	ErrEmptyName     = fmt.Errorf("filename cannot be empty")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}

	whitespaceRun = regexp.MustCompile(`\s+`)
	dotRun        = regexp.MustCompile(`\.{2,}`)
)

// ValidateFilename checks a bare file name destined for an output directory.
func ValidateFilename(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.ContainsAny(name, `/\`) {
		return ErrPathSeparator
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return ErrPathTraversal
	}

	nameWithoutExt := strings.TrimSuffix(strings.ToLower(name), filepath.Ext(name))
	if windowsReservedNames[nameWithoutExt] {
		return ErrReservedName
	}

	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("filename cannot start with hyphen")
	}

	return nil
}

// SanitizeFilename drops characters that are illegal in file names on
// common platforms, collapses whitespace and caps the result at maxRunes
// (DefaultMaxFilenameRunes when maxRunes <= 0). It never returns "", and
// the result always passes ValidateFilename.
func SanitizeFilename(name string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxFilenameRunes
	}

	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	sanitized = whitespaceRun.ReplaceAllString(sanitized, " ")
	sanitized = dotRun.ReplaceAllString(sanitized, ".")
	sanitized = strings.TrimLeft(sanitized, ".- ")
	sanitized = strings.TrimRight(sanitized, ". ")

	if runes := []rune(sanitized); len(runes) > maxRunes {
		sanitized = strings.TrimRight(string(runes[:maxRunes]), ". ")
	}

	ext := filepath.Ext(sanitized)
	stem := strings.TrimSuffix(sanitized, ext)
	if windowsReservedNames[strings.ToLower(stem)] {
		sanitized = stem + "_" + ext
	}

	if sanitized == "" {
		sanitized = "file"
	}

	return sanitized
}
