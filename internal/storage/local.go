package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore writes images under <root>/images and serves them from
// <publicBaseURL>/uploads/images.
type LocalStore struct {
	root          string
	publicBaseURL string
}

func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{root: root, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Upload(ctx context.Context, base64Data, mimeType string) (string, error) {
	data, ext, err := decodeImage(base64Data, mimeType)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(s.root, "images", name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return s.publicBaseURL + "/uploads/images/" + name, nil
}
