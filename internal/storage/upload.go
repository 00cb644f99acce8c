package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jonathan/post-studio/internal/generation"
)

// ErrNotImage is returned by PutImage when the data does not sniff as an image.
var ErrNotImage = errors.New("upload is not an image")

// DetectImage sniffs data and returns its image content type. Declared content types are
// not trusted.
func DetectImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrNotImage)
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, detected.String())
	}
	return detected.String(), nil
}

// PutImage stores user-supplied image bytes, such as an edit mask, under the sniffed type.
func PutImage(ctx context.Context, store Store, data []byte) (generation.Handle, error) {
	contentType, err := DetectImage(data)
	if err != nil {
		return "", err
	}
	return store.Put(ctx, data, contentType)
}
