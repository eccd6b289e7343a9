package media

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	mu    sync.Mutex
	items map[string][]byte
	types map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{items: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return data, m.types[key], nil
}

// 1x1 transparent PNG.
var pngPixel, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

func TestCaptureRejectsEmptyUpload(t *testing.T) {
	a := NewAdapter(nil)
	_, err := a.Capture(context.Background(), Upload{FileName: "x.png"})
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestCaptureSniffsMissingMime(t *testing.T) {
	a := NewAdapter(nil)
	c, err := a.Capture(context.Background(), Upload{FileName: "still.png", Data: pngPixel})
	require.NoError(t, err)

	assert.Equal(t, "image/png", c.MimeType)
	assert.True(t, strings.HasPrefix(c.URL, "data:image/png;base64,"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngPixel), c.Base64)
	assert.Len(t, c.Digest, 64)
	assert.Empty(t, c.Key)
}

func TestCaptureRejectsNonMedia(t *testing.T) {
	a := NewAdapter(nil)
	_, err := a.Capture(context.Background(), Upload{FileName: "notes.txt", Data: []byte("plain text notes")})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = a.Capture(context.Background(), Upload{FileName: "doc.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4")})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestCaptureTrustsDeclaredVideoMime(t *testing.T) {
	a := NewAdapter(nil)
	c, err := a.Capture(context.Background(), Upload{
		FileName: "weapon_test.mp4",
		MimeType: "video/mp4; codecs=avc1",
		Data:     []byte("not really a video"),
	})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", c.MimeType)
	assert.Equal(t, "weapon_test.mp4", c.FileName)
}

func TestCaptureStoresObjectAndOpens(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	a := NewAdapter(objects)

	c, err := a.Capture(ctx, Upload{FileName: "../../etc/cam1.png", Data: pngPixel})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(c.Key, "media/"))
	assert.True(t, strings.HasSuffix(c.Key, "/cam1.png"))
	assert.Equal(t, "/v1/media/"+c.Key, c.URL)

	data, contentType, err := a.Open(ctx, c.Key)
	require.NoError(t, err)
	assert.Equal(t, pngPixel, data)
	assert.Equal(t, "image/png", contentType)

	again, err := a.Reload(ctx, c.Key, c.FileName)
	require.NoError(t, err)
	assert.Equal(t, c.Digest, again.Digest)
	assert.Equal(t, c.Base64, again.Base64)

	_, _, err = a.Open(ctx, "media/missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestIdenticalBytesShareDigest(t *testing.T) {
	a := NewAdapter(nil)
	first, err := a.Capture(context.Background(), Upload{FileName: "a.png", Data: pngPixel})
	require.NoError(t, err)
	second, err := a.Capture(context.Background(), Upload{FileName: "b.png", Data: pngPixel})
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
}

func TestRefNeverInlinesBytes(t *testing.T) {
	ctx := context.Background()

	inline, err := NewAdapter(nil).Capture(ctx, Upload{FileName: "a.png", Data: pngPixel})
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+inline.Digest, inline.Ref())

	stored, err := NewAdapter(newMemObjects()).Capture(ctx, Upload{FileName: "a.png", Data: pngPixel})
	require.NoError(t, err)
	assert.Equal(t, stored.URL, stored.Ref())
}
