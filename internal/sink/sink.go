// Package sink writes export artifacts to their destination.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/security"
)

var ErrNoBucket = errors.New("bucket not configured")

// Sink stores one artifact and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Linker is implemented by sinks that can hand out download links.
type Linker interface {
	PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error)
}

// Local writes artifacts into a directory.
type Local struct {
	Dir string
}

func NewLocal(dir string) *Local {
	if dir == "" {
		dir = "."
	}
	return &Local{Dir: dir}
}

func (l *Local) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := security.ValidateFilename(name); err != nil {
		return "", fmt.Errorf("invalid artifact name: %w", err)
	}
	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	p := filepath.Join(l.Dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return p, nil
}
