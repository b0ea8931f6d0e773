// Package artifacts stores rendered reports and their diagnostics.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// Sink receives named artifacts. Implementations must be safe for concurrent use.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, string, []byte) error { return nil }

// LocalSink writes artifacts under a directory.
type LocalSink struct {
	Dir string
}

// NewLocalSink creates dir if needed.
func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create artifact dir")
	}
	return &LocalSink{Dir: dir}, nil
}

// Put writes to a temp file and renames it so readers never see a partial artifact.
func (s *LocalSink) Put(_ context.Context, name, _ string, data []byte) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "create artifact dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp artifact")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write artifact %s", clean)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close artifact %s", clean)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrapf(err, "save artifact %s", clean)
	}
	return nil
}

// GCSSink uploads artifacts to a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink connects with application default credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS client")
	}
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSSink) Put(ctx context.Context, name, contentType string, data []byte) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	object := clean
	if s.prefix != "" {
		object = s.prefix + "/" + clean
	}

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrapf(err, "upload %s", object)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "upload %s", object)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSSink) Close() error { return s.client.Close() }

// Open builds the sink named by backend: local, gcs or none.
func Open(ctx context.Context, backend, dir, bucket, prefix string) (Sink, error) {
	switch backend {
	case "", "none":
		return Nop{}, nil
	case "local":
		return NewLocalSink(dir)
	case "gcs":
		return NewGCSSink(ctx, bucket, prefix)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", backend)
	}
}

func cleanName(name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))[1:]
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return clean, nil
}
