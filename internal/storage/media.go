// Package storage copies generated media into durable object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Namann-14/artifex/internal/infra"
)

// DefaultMaxBytes bounds a single download when no limit is configured.
const DefaultMaxBytes int64 = 50 << 20

var (
	ErrTooLarge       = errors.New("storage: media exceeds size limit")
	ErrEmptySource    = errors.New("storage: source has no url or data")
	ErrUnsupportedURL = errors.New("storage: unsupported source url")
)

// ObjectStore is a backend that keeps bytes under a key and hands back a URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Source is one provider output: a fetchable URL (http, https or data:) or
// raw bytes.
type Source struct {
	URL  string
	Data []byte
	MIME string
}

// PersistedAsset describes an object after upload.
type PersistedAsset struct {
	URL        string
	StorageKey string
	Format     string
	Width      int
	Height     int
	ByteSize   int64
}

// MediaStoreOptions configures a MediaStore.
type MediaStoreOptions struct {
	MaxBytes   int64
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// MediaStore fetches provider outputs and writes them through an ObjectStore.
// It is safe for concurrent use.
type MediaStore struct {
	objects  ObjectStore
	client   *http.Client
	maxBytes int64
	logger   *infra.Logger
	now      func() time.Time
}

func NewMediaStore(objects ObjectStore, opts MediaStoreOptions) *MediaStore {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := opts.Logger
	if logger == nil {
		nop := infra.NopLogger()
		logger = &nop
	}
	return &MediaStore{objects: objects, client: client, maxBytes: maxBytes, logger: logger, now: time.Now}
}

// Persist stores src under folder and returns its durable location.
func (m *MediaStore) Persist(ctx context.Context, src Source, folder string) (PersistedAsset, error) {
	data, mime, err := m.load(ctx, src)
	if err != nil {
		return PersistedAsset{}, err
	}
	if int64(len(data)) > m.maxBytes {
		return PersistedAsset{}, ErrTooLarge
	}
	mime = contentType(mime, data)

	asset := PersistedAsset{Format: mime, ByteSize: int64(len(data))}
	if strings.HasPrefix(mime, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
	}

	asset.StorageKey = m.key(folder, mime)
	asset.URL, err = m.objects.Put(ctx, asset.StorageKey, data, mime)
	if err != nil {
		return PersistedAsset{}, fmt.Errorf("storage: put %s: %w", asset.StorageKey, err)
	}
	m.logger.Debug().
		Str("key", asset.StorageKey).
		Str("format", mime).
		Int64("bytes", asset.ByteSize).
		Msg("storage: media persisted")
	return asset, nil
}

func (m *MediaStore) load(ctx context.Context, src Source) ([]byte, string, error) {
	if len(src.Data) > 0 {
		return src.Data, src.MIME, nil
	}
	raw := strings.TrimSpace(src.URL)
	switch {
	case raw == "":
		return nil, "", ErrEmptySource
	case strings.HasPrefix(raw, "data:"):
		data, mime, err := decodeDataURI(raw)
		if err != nil {
			return nil, "", err
		}
		return data, firstNonEmpty(src.MIME, mime), nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", ErrUnsupportedURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("storage: fetch: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return nil, "", ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read body: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", ErrTooLarge
	}
	return data, firstNonEmpty(src.MIME, resp.Header.Get("Content-Type")), nil
}

func (m *MediaStore) key(folder, mime string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "media"
	}
	day := m.now().UTC().Format("2006/01/02")
	return path.Join(folder, day, uuid.NewString()+extensionFor(mime))
}

func decodeDataURI(raw string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, "", errors.New("storage: malformed data uri")
	}
	mime, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("storage: decode data uri: %w", err)
		}
		return []byte(decoded), mime, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("storage: decode data uri: %w", err)
	}
	return data, mime, nil
}

// contentType prefers the declared type unless it is missing or generic.
func contentType(declared string, data []byte) string {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared == "" || declared == "application/octet-stream" || declared == "binary/octet-stream" {
		return strings.Split(http.DetectContentType(data), ";")[0]
	}
	return strings.ToLower(declared)
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

func extensionFor(mime string) string {
	if ext, ok := extensions[mime]; ok {
		return ext
	}
	return ".bin"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
