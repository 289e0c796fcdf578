package image

import (
	"regexp"
	"strings"
)

var imageURLPattern = regexp.MustCompile(`(?i)^https?://\S+\.(png|jpe?g|webp|gif|avif)(?:[?#]\S*)?$`)

// Substrings marking resized or role-specific renditions of an image.
var thumbnailPatterns = []string{
	"_resized",
	"/resized/",
	"resize=",
	"width=",
	"?w=",
	"&w=",
	"thumbnail",
	"thumb",
	"small",
	"preview",
}

// FieldRule selects generation payload fields that may hold image URLs.
// Rules are evaluated in order and a field is claimed by the first rule
// naming it; Field "*" claims every field not yet claimed, in key order.
type FieldRule struct {
	Name      string
	Field     string
	Primary   bool
	Thumbnail func(url string) bool
}

const AnyField = "*"

// DefaultRules scans the canonical output image, then the list fields the
// service is known to use, then everything else.
func DefaultRules() []FieldRule {
	return []FieldRule{
		{Name: "output image", Field: "output_image_url", Primary: true},
		{Name: "image list", Field: "image_urls", Thumbnail: IsThumbnail},
		{Name: "images", Field: "images", Thumbnail: IsThumbnail},
		{Name: "outputs", Field: "outputs", Thumbnail: IsThumbnail},
		{Name: "remaining fields", Field: AnyField, Thumbnail: IsThumbnail},
	}
}

// IsImageURL reports whether s is an http(s) URL ending in a known image
// extension, optionally followed by a query or fragment.
func IsImageURL(s string) bool {
	return imageURLPattern.MatchString(strings.TrimSpace(s))
}

func IsThumbnail(url string) bool {
	lower := strings.ToLower(url)
	for _, p := range thumbnailPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// NormalizeURL strips the query string and fragment; it is the identity
// used for deduplication.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}
