package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeThumbnail(t *testing.T, uri string) image.Image {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(uri, prefix))
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestGenerateThumbnail(t *testing.T) {
	t.Run("portrait is scaled to width", func(t *testing.T) {
		uri, err := GenerateThumbnail(encodePNG(t, 400, 800))
		require.NoError(t, err)
		img := decodeThumbnail(t, uri)
		assert.Equal(t, 200, img.Bounds().Dx())
		assert.Equal(t, 400, img.Bounds().Dy())
	})

	t.Run("landscape is scaled to height", func(t *testing.T) {
		uri, err := GenerateThumbnail(encodePNG(t, 900, 600))
		require.NoError(t, err)
		img := decodeThumbnail(t, uri)
		assert.Equal(t, 300, img.Bounds().Dy())
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := GenerateThumbnail([]byte("plain text"))
		assert.Error(t, err)
	})
}

func TestThumbnailFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cover.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 100, 150), 0644))

	uri, err := ThumbnailFromFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/jpeg;base64,"))

	_, err = ThumbnailFromFile(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
