// Package pod stores proof-of-delivery attachments.
package pod

import (
	"context"
	"io"
	"path/filepath"
	"strings"
)

// Store is a blob store keyed by storage key. Put overwrites an existing
// blob; Get fails with apperr.ErrNotFound for a missing key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Key returns the storage key of the attachment uploaded for tripID under
// the client file name filename: "<trip_id>_pod.<ext>".
func Key(tripID, filename string) string {
	return tripID + "_pod." + extension(filename)
}

func extension(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	clean := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
	if clean == "" {
		return "bin"
	}
	return clean
}
