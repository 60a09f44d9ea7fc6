package embedding

import (
	"context"
	"image"
	"math"
)

// MockTextEncoder is a deterministic text encoder for tests. The same text
// always gets the same embedding.
type MockTextEncoder struct {
	dimensions int
	closed     bool
}

var _ TextEncoder = (*MockTextEncoder)(nil)

// NewMockTextEncoder returns an encoder producing deterministic embeddings
// of the given dimensions.
func NewMockTextEncoder(dimensions int) *MockTextEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockTextEncoder{dimensions: dimensions}
}

// EncodeText returns a deterministic embedding based on the text hash.
func (e *MockTextEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return hashVector(hashString(text), e.dimensions), nil
}

// Close marks the encoder closed.
func (e *MockTextEncoder) Close() error {
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *MockTextEncoder) Closed() bool { return e.closed }

// MockImageEncoder is a deterministic image encoder for tests. The embedding
// depends only on the image bounds.
type MockImageEncoder struct {
	dimensions int
	closed     bool
}

var _ ImageEncoder = (*MockImageEncoder)(nil)

// NewMockImageEncoder returns an encoder producing deterministic embeddings
// of the given dimensions.
func NewMockImageEncoder(dimensions int) *MockImageEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockImageEncoder{dimensions: dimensions}
}

// EncodeImage returns a deterministic embedding based on the image size.
func (e *MockImageEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	b := img.Bounds()
	return hashVector(b.Dx()*31+b.Dy(), e.dimensions), nil
}

// Close marks the encoder closed.
func (e *MockImageEncoder) Close() error {
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *MockImageEncoder) Closed() bool { return e.closed }

// hashVector derives a unit-length vector from a seed.
func hashVector(seed, dimensions int) []float32 {
	vec := make([]float32, dimensions)
	for i := 0; i < dimensions; i++ {
		vec[i] = float32(math.Sin(float64(seed*(i+1)))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range vec {
			vec[i] *= float32(norm)
		}
	}
	return vec
}
