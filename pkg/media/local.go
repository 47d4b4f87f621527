package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalSource reads files from a directory on disk.
type LocalSource struct {
	Root string
}

// NewLocalSource creates a LocalSource rooted at root.
func NewLocalSource(root string) (*LocalSource, error) {
	if root == "" {
		return nil, errors.New("root directory cannot be empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat media root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media root %s is not a directory", root)
	}
	return &LocalSource{Root: root}, nil
}

// Open reads name below the root. The content type comes from the extension,
// falling back to sniffing the first bytes.
func (s *LocalSource) Open(_ context.Context, name string) (File, error) {
	clean := filepath.Clean("/" + name)
	path := filepath.Join(s.Root, clean)
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return File{
		Name:        filepath.Base(clean),
		ContentType: contentType(clean, data),
		Data:        data,
	}, nil
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
