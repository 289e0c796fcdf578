package image

import (
	"sort"
	"strconv"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const (
	PortraitCaption   = "Character Photo"
	BackgroundCaption = "Character Background"

	maxScanDepth = 3
)

var modelKeys = []string{"model", "model_name", "sd_model", "checkpoint"}

type Extractor struct {
	rules []FieldRule
}

func NewExtractor(rules []FieldRule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Extract uses DefaultRules.
func Extract(messages []models.Message, characters []models.CharacterRef, now time.Time) []models.ImageRecord {
	return NewExtractor(nil).Extract(messages, characters, now)
}

// Extract returns the deduplicated image records of a chat: character
// portraits first, then message images in ascending message time.
func (x *Extractor) Extract(messages []models.Message, characters []models.CharacterRef, now time.Time) []models.ImageRecord {
	sorted := models.SortMessages(messages)

	portraitTS := now.UnixMilli()
	if len(sorted) > 0 {
		portraitTS = sorted[0].CreatedAt.UnixMilli()
	}

	var records []models.ImageRecord
	for _, ch := range characters {
		for _, u := range ch.ForegroundPhotoURLs {
			records = append(records, models.ImageRecord{
				URL:         u,
				Message:     PortraitCaption,
				TimestampMs: portraitTS,
				Source:      models.SourceCharacterPhoto,
			})
		}
		for _, u := range ch.BackgroundPhotoURLs {
			records = append(records, models.ImageRecord{
				URL:         u,
				Message:     BackgroundCaption,
				TimestampMs: portraitTS,
				Source:      models.SourceCharacterBackground,
			})
		}
	}

	for _, msg := range sorted {
		records = append(records, x.messageImages(msg)...)
	}
	return Deduplicate(records)
}

func (x *Extractor) messageImages(msg models.Message) []models.ImageRecord {
	payload := msg.TextToImage
	if len(payload) == 0 {
		return nil
	}

	base := models.ImageRecord{
		Message:     msg.Text,
		TimestampMs: msg.CreatedAt.UnixMilli(),
		Model:       payload.FirstString(modelKeys...),
		MessageUUID: msg.UUID,
		TextToImage: payload,
	}
	if base.Message == "" {
		base.Message = payload.Prompt()
	}

	claimed := make(map[string]bool)
	var primary string
	var records []models.ImageRecord

	for _, rule := range x.rules {
		if !rule.Primary {
			continue
		}
		claimed[rule.Field] = true
		if primary == "" {
			if u := payload.String(rule.Field); u != "" {
				primary = u
				rec := base
				rec.URL = u
				rec.Source = "text_to_image." + rule.Field
				records = append(records, rec)
			}
		}
	}
	primaryKey := NormalizeURL(primary)

	for _, rule := range x.rules {
		if rule.Primary {
			continue
		}
		for _, field := range ruleFields(rule, payload, claimed) {
			claimed[field] = true
			for _, c := range scan(payload[field], field, 0) {
				if rule.Thumbnail != nil && rule.Thumbnail(c.url) {
					continue
				}
				if primaryKey != "" && NormalizeURL(c.url) == primaryKey {
					continue
				}
				rec := base
				rec.URL = c.url
				rec.Source = "text_to_image." + c.path
				records = append(records, rec)
			}
		}
	}
	return records
}

func ruleFields(rule FieldRule, payload models.TextToImagePayload, claimed map[string]bool) []string {
	if rule.Field != AnyField {
		if _, ok := payload[rule.Field]; ok && !claimed[rule.Field] {
			return []string{rule.Field}
		}
		return nil
	}
	var fields []string
	for k := range payload {
		if !claimed[k] {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

type candidate struct {
	url  string
	path string
}

// scan walks strings, arrays and objects below v collecting image URLs.
func scan(v any, path string, depth int) []candidate {
	if depth > maxScanDepth {
		return nil
	}
	switch t := v.(type) {
	case string:
		if IsImageURL(t) {
			return []candidate{{url: t, path: path}}
		}
	case []any:
		var out []candidate
		for i, item := range t {
			out = append(out, scan(item, path+"["+strconv.Itoa(i)+"]", depth+1)...)
		}
		return out
	case []string:
		var out []candidate
		for i, item := range t {
			out = append(out, scan(item, path+"["+strconv.Itoa(i)+"]", depth+1)...)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []candidate
		for _, k := range keys {
			out = append(out, scan(t[k], path+"."+k, depth+1)...)
		}
		return out
	}
	return nil
}

// Deduplicate folds records by NormalizeURL; the first occurrence wins.
func Deduplicate(records []models.ImageRecord) []models.ImageRecord {
	seen := make(map[string]bool, len(records))
	out := make([]models.ImageRecord, 0, len(records))
	for _, r := range records {
		key := NormalizeURL(r.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// ForMessage returns the records extracted from the given message.
func ForMessage(records []models.ImageRecord, messageUUID string) []models.ImageRecord {
	var out []models.ImageRecord
	for _, r := range records {
		if r.MessageUUID != "" && r.MessageUUID == messageUUID {
			out = append(out, r)
		}
	}
	return out
}

// CountGenerated counts records that came from messages, not portraits.
func CountGenerated(records []models.ImageRecord) int {
	n := 0
	for _, r := range records {
		if !r.IsPortrait() {
			n++
		}
	}
	return n
}
