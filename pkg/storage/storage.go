// Package storage archives original production uploads so a failed or
// disputed import can be replayed from the exact bytes received.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Archiver stores the original bytes of an uploaded file.
type Archiver interface {
	Archive(filename string, data []byte) (string, error)
}

// LocalArchiver keeps uploads under a date-partitioned directory tree.
type LocalArchiver struct {
	root string
}

// NewLocalArchiver creates the root directory if needed.
func NewLocalArchiver(root string) (*LocalArchiver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &LocalArchiver{root: root}, nil
}

// Archive writes the upload to <root>/<yyyy-mm>/<uuid>_<name> and returns the
// path.
func (a *LocalArchiver) Archive(filename string, data []byte) (string, error) {
	dir := filepath.Join(a.root, time.Now().UTC().Format("2006-01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive partition: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+"_"+sanitize(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("archive upload: %w", err)
	}
	return path, nil
}

// NopArchiver discards uploads; used when archiving is disabled.
type NopArchiver struct{}

func (NopArchiver) Archive(string, []byte) (string, error) { return "", nil }

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
