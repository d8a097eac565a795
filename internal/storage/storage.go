// Package storage uploads files to the hosted object storage service and
// builds their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/kinber/kinber/internal/logging"
	storage_go "github.com/supabase-community/storage-go"
)

// Bucket is one object storage bucket.
type Bucket struct {
	base    string
	name    string
	anonKey string
}

// New returns a client for bucket on the storage service at serviceURL.
func New(serviceURL, anonKey, bucket string) *Bucket {
	return &Bucket{
		base:    strings.TrimRight(serviceURL, "/") + "/storage/v1",
		name:    bucket,
		anonKey: anonKey,
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// client returns a storage client acting as token. The client keeps per-call
// headers, so every call gets its own.
func (b *Bucket) client(token string) *storage_go.Client {
	if token == "" {
		token = b.anonKey
	}
	return storage_go.NewClient(b.base, token, map[string]string{"apikey": b.anonKey})
}

// Upload stores r at path. token is the caller's access token; an empty token
// falls back to the anon key. Existing objects are never overwritten.
func (b *Bucket) Upload(ctx context.Context, token, path string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: upload %s: %w", path, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := false
	resp, err := b.client(token).UploadFile(b.name, escapePath(path), ctxReader{ctx: ctx, r: r}, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		var se *storage_go.StorageError
		if errors.As(err, &se) && se.Message == "" {
			return fmt.Errorf("storage: upload %s: rejected", path)
		}
		return fmt.Errorf("storage: upload %s: %w", path, err)
	}
	if resp.Key == "" {
		return fmt.Errorf("storage: upload %s: no object key in response", path)
	}
	log := logging.For("storage")
	log.Debug().Str("key", resp.Key).Int64("size", size).Msg("object uploaded")
	return nil
}

// PublicURL returns the durable public URL of the object at path.
func (b *Bucket) PublicURL(path string) string {
	return b.client("").GetPublicUrl(url.PathEscape(b.name), escapePath(path)).SignedURL
}

// escapePath escapes each segment of an object path and keeps the separators.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// ctxReader stops an upload body once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
