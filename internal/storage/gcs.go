package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"call-insights/internal/calls"
)

type GCSConfig struct {
	Bucket          string
	CredentialsJSON string
	PresignTTL      time.Duration
}

// GCS stores recordings in a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	ttl    time.Duration
	now    func() time.Time
}

func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Put writes only if the key is new; an existing object yields ErrObjectExists.
func (g *GCS) Put(ctx context.Context, key string, r io.Reader, contentType string) (calls.AudioRef, error) {
	w := g.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"fileType": "call-recording"}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return calls.AudioRef{}, fmt.Errorf("failed to write object %s: %w", key, classify(err))
	}
	if err := w.Close(); err != nil {
		return calls.AudioRef{}, fmt.Errorf("failed to finalize object %s: %w", key, classify(err))
	}
	slog.DebugContext(ctx, "recording stored", "bucket", g.name, "key", key)
	return calls.AudioRef{Key: key, Location: g.GSURI(key)}, nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, classify(err))
	}
	return rc, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := g.bucket.Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, classify(err))
	}
	return nil
}

// ResolveURL returns a V4 signed GET URL valid for the configured TTL.
func (g *GCS) ResolveURL(_ context.Context, key string) (string, error) {
	u, err := g.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: g.now().Add(g.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return u, nil
}

func (g *GCS) GSURI(key string) string {
	return "gs://" + g.name + "/" + key
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// GSURIResolver hands engines a gs:// URI instead of a signed URL.
type GSURIResolver struct {
	Store *GCS
}

func (r GSURIResolver) ResolveURL(_ context.Context, key string) (string, error) {
	return r.Store.GSURI(key), nil
}

func classify(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return ErrObjectExists
		case http.StatusNotFound:
			return ErrObjectNotFound
		}
	}
	return err
}
