// Package preview draws chat images inline in terminals that speak the
// Kitty graphics protocol.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/security"
	"github.com/cyelis1224/moescape-exporter-sub001/pkg/models"
)

const (
	defaultTimeout = 30 * time.Second
	maxImageBytes  = 32 << 20
)

var (
	ErrUnsupportedTerminal = errors.New("terminal does not support inline images")
	ErrUndecodable         = errors.New("image cannot be converted to PNG")
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type Previewer struct {
	out        io.Writer
	httpClient *http.Client
	validate   func(rawURL string) error
}

type Option func(*Previewer)

func WithHTTPClient(hc *http.Client) Option {
	return func(p *Previewer) { p.httpClient = hc }
}

// WithURLValidator replaces the pre-fetch URL check; nil disables it.
func WithURLValidator(fn func(rawURL string) error) Option {
	return func(p *Previewer) { p.validate = fn }
}

func New(out io.Writer, opts ...Option) *Previewer {
	p := &Previewer{
		out:        out,
		httpClient: &http.Client{Timeout: defaultTimeout},
		validate: func(rawURL string) error {
			return security.ValidateImageURL(rawURL, false)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Show fetches the record's image and writes it to the terminal followed
// by a caption line.
func (p *Previewer) Show(ctx context.Context, rec models.ImageRecord) error {
	data, err := p.fetch(ctx, rec.URL)
	if err != nil {
		return err
	}
	data, err = toPNG(data)
	if err != nil {
		return err
	}
	if err := writeKitty(p.out, data); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	fmt.Fprintln(p.out)
	if rec.Message != "" {
		fmt.Fprintln(p.out, rec.Message)
	}
	return nil
}

func (p *Previewer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if p.validate != nil {
		if err := p.validate(rawURL); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

// toPNG passes PNG data through and re-encodes JPEG, GIF and WebP.
func toPNG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngMagic) {
		return data, nil
	}
	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return buf.Bytes(), nil
}

// Supported reports whether the environment looks like a terminal with
// Kitty graphics support.
func Supported(getenv func(string) string) bool {
	switch strings.ToLower(getenv("TERM_PROGRAM")) {
	case "kitty", "ghostty", "wezterm":
		return true
	}
	if getenv("KITTY_WINDOW_ID") != "" {
		return true
	}
	t := strings.ToLower(getenv("TERM"))
	return strings.Contains(t, "kitty") || strings.Contains(t, "ghostty")
}
