package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Uploader persists an image and returns its stable public URL.
type Uploader interface {
	Upload(ctx context.Context, base64Data, mimeType string) (string, error)
}

var ErrInvalidDataURI = errors.New("invalid data URI")

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ParseDataURI splits "data:<mime>;base64,<payload>" into mime type and payload.
func ParseDataURI(uri string) (mimeType, payload string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || payload == "" {
		return "", "", ErrInvalidDataURI
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok || mimeType == "" {
		return "", "", ErrInvalidDataURI
	}
	return mimeType, payload, nil
}

// decodeImage validates the mime type and decodes the payload.
func decodeImage(base64Data, mimeType string) ([]byte, string, error) {
	ext, ok := imageExtensions[strings.ToLower(mimeType)]
	if !ok {
		return nil, "", fmt.Errorf("unsupported image type %q", mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode image payload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty image payload")
	}
	return data, ext, nil
}
