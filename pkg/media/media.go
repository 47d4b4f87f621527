// Package media loads files for product uploads and applies the catalog's
// image/video rule to them.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RejectionMessage is shown when a selection contains a file that is neither an
// image nor a video.
const RejectionMessage = "Only image and video files are allowed."

// ErrUnsupportedType marks a file rejected by Filter.
var ErrUnsupportedType = errors.New(RejectionMessage)

// Type is the kind of a media item as stored on a product.
type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

// File is one file selected for upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Type returns the media kind of the file, or "" when it is neither.
func (f File) Type() Type {
	return TypeOf(f.ContentType)
}

// TypeOf maps a MIME type to its media kind.
func TypeOf(contentType string) Type {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return TypeImage
	case strings.HasPrefix(ct, "video/"):
		return TypeVideo
	default:
		return ""
	}
}

// Filter keeps the image and video files and returns the names of the rest.
// The order of accepted files is preserved.
func Filter(files []File) (accepted []File, rejected []string) {
	for _, f := range files {
		if f.Type() == "" {
			rejected = append(rejected, f.Name)
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, rejected
}

// RejectionError wraps ErrUnsupportedType with the rejected file names, or
// returns nil when nothing was rejected.
func RejectionError(rejected []string) error {
	if len(rejected) == 0 {
		return nil
	}
	return fmt.Errorf("%w (%s)", ErrUnsupportedType, strings.Join(rejected, ", "))
}

// Source loads files by name.
type Source interface {
	Open(ctx context.Context, name string) (File, error)
}

// Load opens every name from src and filters the result.
func Load(ctx context.Context, src Source, names []string) ([]File, error) {
	files := make([]File, 0, len(names))
	for _, name := range names {
		f, err := src.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to open media %q: %w", name, err)
		}
		files = append(files, f)
	}
	accepted, rejected := Filter(files)
	if err := RejectionError(rejected); err != nil {
		return nil, err
	}
	return accepted, nil
}
