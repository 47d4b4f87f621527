package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts the read side of a *storage.ObjectHandle.
type GCSObjectHandle interface {
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return a.handle.Attrs(ctx)
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

// GCSSourceConfig holds configuration for a GCSSource.
type GCSSourceConfig struct {
	BucketName string
	// MaxObjectSize bounds a single download; zero means 64 MiB.
	MaxObjectSize int64
}

// GCSSource reads upload files from a Cloud Storage bucket.
type GCSSource struct {
	bucket GCSBucketHandle
	cfg    GCSSourceConfig
	logger zerolog.Logger
}

// NewGCSSource creates a GCSSource over cfg.BucketName.
func NewGCSSource(client GCSClient, cfg GCSSourceConfig, logger zerolog.Logger) (*GCSSource, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name cannot be empty")
	}
	if cfg.MaxObjectSize <= 0 {
		cfg.MaxObjectSize = 64 << 20
	}
	return &GCSSource{
		bucket: client.Bucket(cfg.BucketName),
		cfg:    cfg,
		logger: logger.With().Str("component", "GCSMediaSource").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Open downloads the object called name. The content type is the object's own.
func (s *GCSSource) Open(ctx context.Context, name string) (File, error) {
	obj := s.bucket.Object(name)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return File{}, fmt.Errorf("object %s: %w", name, err)
		}
		return File{}, fmt.Errorf("failed to read attributes of %s: %w", name, err)
	}
	if attrs.Size > s.cfg.MaxObjectSize {
		return File{}, fmt.Errorf("object %s is %d bytes, larger than the %d byte limit", name, attrs.Size, s.cfg.MaxObjectSize)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return File{}, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxObjectSize+1))
	if err != nil {
		return File{}, fmt.Errorf("failed to download %s: %w", name, err)
	}

	ct := attrs.ContentType
	if ct == "" {
		ct = contentType(name, data)
	}
	s.logger.Debug().Str("object", name).Int("bytes", len(data)).Str("content_type", ct).Msg("Media object downloaded.")
	return File{Name: path.Base(name), ContentType: ct, Data: data}, nil
}
