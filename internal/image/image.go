package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/security"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const defaultParallel = 4

// Result is the outcome of saving one record.
type Result struct {
	Record models.ImageRecord
	Path   string
	Bytes  int64
	Err    error
}

type Summary struct {
	Total  int
	Saved  int
	Failed int
	Bytes  int64
}

type Saver struct {
	httpClient *http.Client
	parallel   int
	validate   func(rawURL string) error
}

type SaverOption func(*Saver)

func WithHTTPClient(hc *http.Client) SaverOption {
	return func(s *Saver) { s.httpClient = hc }
}

func WithParallel(n int) SaverOption {
	return func(s *Saver) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithURLValidator replaces the pre-download URL check; nil disables it.
func WithURLValidator(fn func(rawURL string) error) SaverOption {
	return func(s *Saver) { s.validate = fn }
}

func NewSaver(opts ...SaverOption) *Saver {
	s := &Saver{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		parallel: defaultParallel,
		validate: func(rawURL string) error {
			return security.ValidateImageURL(rawURL, false)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveAll downloads every record into dir. A failing item is reported in
// its Result and does not stop the others; the returned error covers only
// setup problems and cancellation.
func (s *Saver) SaveAll(ctx context.Context, records []models.ImageRecord, dir string) ([]Result, Summary, error) {
	results := make([]Result, len(records))
	summary := Summary{Total: len(records)}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return results, summary, fmt.Errorf("failed to create directory: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.parallel)
	for i := range records {
		i := i
		g.Go(func() error {
			results[i] = s.save(ctx, records[i], dir, i)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
			continue
		}
		summary.Saved++
		summary.Bytes += r.Bytes
	}
	return results, summary, ctx.Err()
}

func (s *Saver) save(ctx context.Context, rec models.ImageRecord, dir string, index int) Result {
	res := Result{Record: rec}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if s.validate != nil {
		if err := s.validate(rec.URL); err != nil {
			res.Err = fmt.Errorf("refusing %s: %w", rec.URL, err)
			return res
		}
	}

	data, err := s.downloadFromURL(ctx, rec.URL)
	if err != nil {
		res.Err = fmt.Errorf("failed to download image: %w", err)
		return res
	}

	p := filepath.Join(dir, GenerateFilename(index, rec.URL))
	if err := os.WriteFile(p, data, 0644); err != nil {
		res.Err = fmt.Errorf("failed to write file: %w", err)
		return res
	}
	res.Path = p
	res.Bytes = int64(len(data))
	return res
}

func (s *Saver) downloadFromURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// GenerateFilename numbers files by position so repeated basenames from
// different hosts do not collide.
func GenerateFilename(index int, rawURL string) string {
	base := path.Base(NormalizeURL(rawURL))
	if base == "." || base == "/" {
		base = "image"
	}
	return fmt.Sprintf("%03d-%s", index+1, security.SanitizeFilename(base, 80))
}
