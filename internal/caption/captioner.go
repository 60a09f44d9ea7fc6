// Package caption produces natural-language image descriptions via a hosted
// chat-completion API.
package caption

import (
	"context"
	"errors"
)

// Captioner describes an image using a vision-capable chat model.
type Captioner interface {
	// Name returns the name of the backing provider, e.g. "openai".
	Name() string

	// Caption returns an English description of the image. The image data is
	// the full contents of the uploaded file; mimeType may be empty, in which
	// case image/jpeg is assumed.
	Caption(ctx context.Context, image []byte, mimeType string) (string, error)
}

var (
	// ErrMissingCredential means the API key environment variable is unset.
	ErrMissingCredential = errors.New("caption API credential is not configured")

	// ErrEmptyCaption means the upstream model returned no message content.
	ErrEmptyCaption = errors.New("model returned no caption")
)
