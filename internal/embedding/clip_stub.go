//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
	"image"

	"github.com/hyperjump/miru/internal/config"
)

var errNoCGO = errors.New("CLIP encoders require CGO; build with CGO_ENABLED=1 and onnxruntime")

// CLIPTextEncoder stub type when built without CGO (see clip.go for the real implementation).
type CLIPTextEncoder struct{}

// NewCLIPTextEncoder returns an error when built without CGO.
func NewCLIPTextEncoder(_ *config.EmbeddingConfig) (*CLIPTextEncoder, error) {
	return nil, errNoCGO
}

func (e *CLIPTextEncoder) EncodeText(context.Context, string) ([]float32, error) {
	return nil, errNoCGO
}

func (e *CLIPTextEncoder) Close() error { return nil }

// CLIPVisionEncoder stub type when built without CGO.
type CLIPVisionEncoder struct{}

// NewCLIPVisionEncoder returns an error when built without CGO.
func NewCLIPVisionEncoder(_ *config.EmbeddingConfig) (*CLIPVisionEncoder, error) {
	return nil, errNoCGO
}

func (e *CLIPVisionEncoder) EncodeImage(context.Context, image.Image) ([]float32, error) {
	return nil, errNoCGO
}

func (e *CLIPVisionEncoder) Close() error { return nil }
