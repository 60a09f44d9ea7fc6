// Package embedding produces CLIP text and image embeddings via ONNX,
// with lazy model loading and caching.
package embedding

import (
	"context"
	"image"
)

// TextEncoder produces vector embeddings for text.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// ImageEncoder produces vector embeddings for decoded images.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img image.Image) ([]float32, error)
	Close() error
}
