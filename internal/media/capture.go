// Package media turns operator uploads into stored objects plus the base64
// payload the classification gateway sends out.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrNoMedia          = errors.New("no media selected")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrObjectNotFound   = errors.New("media object not found")
)

// ObjectStore is the subset of the MinIO store the adapter needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, string, error)
}

type Upload struct {
	FileName string
	MimeType string
	Data     []byte
}

// Captured is an upload ready for display and classification.
type Captured struct {
	Key      string `json:"key,omitempty"`
	URL      string `json:"url"`
	Base64   string `json:"-"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
	// Digest is the hex SHA-256 of the bytes.
	Digest string `json:"digest"`
}

type Adapter struct {
	objects ObjectStore
}

// NewAdapter returns a capture adapter. A nil object store keeps media inline
// as data URIs.
func NewAdapter(objects ObjectStore) *Adapter {
	return &Adapter{objects: objects}
}

// Stored reports whether uploads are persisted to an object store.
func (a *Adapter) Stored() bool {
	return a.objects != nil
}

func (a *Adapter) Capture(ctx context.Context, up Upload) (*Captured, error) {
	if len(up.Data) == 0 {
		return nil, ErrNoMedia
	}

	mimeType := normalizeMime(up.MimeType)
	if mimeType == "" {
		mimeType = normalizeMime(mimetype.Detect(up.Data).String())
	}
	if !isSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}

	name := sanitizeName(up.FileName)
	c := &Captured{
		Base64:   base64.StdEncoding.EncodeToString(up.Data),
		MimeType: mimeType,
		FileName: name,
		Digest:   Digest(up.Data),
	}

	if a.objects == nil {
		c.URL = "data:" + mimeType + ";base64," + c.Base64
		return c, nil
	}

	c.Key = "media/" + uuid.New().String() + "/" + name
	if err := a.objects.PutObject(ctx, c.Key, up.Data, mimeType); err != nil {
		return nil, fmt.Errorf("store media: %w", err)
	}
	c.URL = "/v1/media/" + c.Key
	return c, nil
}

// Open returns a previously captured object by key.
func (a *Adapter) Open(ctx context.Context, key string) ([]byte, string, error) {
	if a.objects == nil {
		return nil, "", ErrObjectNotFound
	}
	data, contentType, err := a.objects.GetObject(ctx, strings.TrimPrefix(key, "/"))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return data, contentType, nil
}

// Reload rebuilds a Captured from stored bytes, as the worker does for queued scans.
func (a *Adapter) Reload(ctx context.Context, key, fileName string) (*Captured, error) {
	data, contentType, err := a.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Captured{
		Key:      key,
		URL:      "/v1/media/" + key,
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: normalizeMime(contentType),
		FileName: fileName,
		Digest:   Digest(data),
	}, nil
}

// Ref is what records keep: the proxy URL when the bytes are stored, otherwise
// a content reference, so inline uploads never end up inside a record.
func (c *Captured) Ref() string {
	if c.Key != "" {
		return c.URL
	}
	return "sha256:" + c.Digest
}

// Digest is the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "application/octet-stream" {
		return ""
	}
	return m
}

func isSupported(m string) bool {
	return strings.HasPrefix(m, "image/") || strings.HasPrefix(m, "video/")
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
