package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const thumbnailWidth uint = 200
const thumbnailHeight uint = 300

// GenerateThumbnail takes raw image data, resizes it, encodes it as a
// Base64 JPEG, and returns it as a data URI string.
func GenerateThumbnail(imageData []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	var resized image.Image
	if img.Bounds().Dy() > img.Bounds().Dx() {
		resized = resize.Resize(thumbnailWidth, 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, thumbnailHeight, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 75}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ThumbnailFromFile builds a thumbnail for the image stored at path.
func ThumbnailFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return GenerateThumbnail(data)
}
