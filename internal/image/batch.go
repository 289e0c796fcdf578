package image

import "github.com/cyelis1224/moescape-exporter-sub001/pkg/models"

// BatchWindowMs bounds how far apart two unseeded variants may be.
const BatchWindowMs = 2000

// FindBatch returns the comparison batch around records[index]. Neighbours
// join while they carry a generation payload with the same prompt and
// either the same seed or a timestamp within BatchWindowMs of the target.
// Only a run of exactly two is a batch; any other run yields the target
// alone. An out-of-range index yields nil.
func FindBatch(records []models.ImageRecord, index int) []models.ImageRecord {
	if index < 0 || index >= len(records) {
		return nil
	}
	target := records[index]
	single := []models.ImageRecord{target}
	if len(target.TextToImage) == 0 {
		return single
	}

	prompt := target.TextToImage.Prompt()
	seed, hasSeed := target.TextToImage.Seed()

	joins := func(r models.ImageRecord) bool {
		if len(r.TextToImage) == 0 || r.TextToImage.Prompt() != prompt {
			return false
		}
		if s, ok := r.TextToImage.Seed(); ok && hasSeed && s == seed {
			return true
		}
		d := r.TimestampMs - target.TimestampMs
		if d < 0 {
			d = -d
		}
		return d <= BatchWindowMs
	}

	start := index
	for start > 0 && joins(records[start-1]) {
		start--
	}
	end := index
	for end < len(records)-1 && joins(records[end+1]) {
		end++
	}

	if end-start+1 != 2 {
		return single
	}
	batch := make([]models.ImageRecord, 2)
	copy(batch, records[start:end+1])
	return batch
}
