//go:build cgo
// +build cgo

// CLIP ONNX encoders (require CGO and the onnxruntime shared library).

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/miru/internal/config"
)

// ONNX graph names in the Xenova CLIP exports.
const (
	textInputIDsName      = "input_ids"
	textAttentionMaskName = "attention_mask"
	textOutputName        = "text_embeds"
	visionInputName       = "pixel_values"
	visionOutputName      = "image_embeds"
)

func initRuntime() error {
	if ort.IsInitialized() {
		return nil
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// CLIPTextEncoder runs the CLIP text model. Tensors are pre-allocated for
// Run(); input data is updated and output read under a mutex.
type CLIPTextEncoder struct {
	session    *ort.AdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int

	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

var _ TextEncoder = (*CLIPTextEncoder)(nil)

// NewCLIPTextEncoder downloads the text model and tokenizer for the
// configured model identifier (reusing cached files) and opens a session.
func NewCLIPTextEncoder(cfg *config.EmbeddingConfig) (*CLIPTextEncoder, error) {
	if err := initRuntime(); err != nil {
		return nil, err
	}

	modelPath, err := fetchModelFile(cfg.ModelID, cfg.CacheDir, cfg.TextModelFile)
	if err != nil {
		return nil, err
	}
	tokenizer, err := newCLIPTokenizer(cfg.ModelID, cfg.CacheDir, cfg.MaxTokens)
	if err != nil {
		return nil, err
	}

	inputIDs, attentionMask := tokenizer.Tokenize("")
	inputIDsTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.MaxTokens)), inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attentionMaskTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.MaxTokens)), attentionMask)
	if err != nil {
		inputIDsTensor.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), make([]float32, cfg.Dimensions))
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{textInputIDsName, textAttentionMaskName},
		[]string{textOutputName},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create text model session: %w", err)
	}

	return &CLIPTextEncoder{
		session:             session,
		tokenizer:           tokenizer,
		dimensions:          cfg.Dimensions,
		maxTokens:           cfg.MaxTokens,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		outputTensor:        outputTensor,
	}, nil
}

// EncodeText tokenizes text and runs the text model.
func (e *CLIPTextEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask := e.tokenizer.Tokenize(text)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData()[:e.dimensions])
	return embedding, nil
}

// Close destroys the session and tensors.
func (e *CLIPTextEncoder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
		e.inputIDsTensor = nil
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
		e.attentionMaskTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}

// CLIPVisionEncoder runs the CLIP vision model on preprocessed pixel values.
type CLIPVisionEncoder struct {
	session    *ort.AdvancedSession
	processor  *Processor
	dimensions int

	pixelTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

var _ ImageEncoder = (*CLIPVisionEncoder)(nil)

// NewCLIPVisionEncoder downloads the vision model for the configured model
// identifier (reusing cached files) and opens a session.
func NewCLIPVisionEncoder(cfg *config.EmbeddingConfig) (*CLIPVisionEncoder, error) {
	if err := initRuntime(); err != nil {
		return nil, err
	}

	modelPath, err := fetchModelFile(cfg.ModelID, cfg.CacheDir, cfg.VisionModelFile)
	if err != nil {
		return nil, err
	}

	processor := NewProcessor(cfg.ImageSize)
	size := int64(processor.Size())
	pixelTensor, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), make([]float32, cfg.Dimensions))
	if err != nil {
		pixelTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{visionInputName},
		[]string{visionOutputName},
		[]ort.ArbitraryTensor{pixelTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		pixelTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create vision model session: %w", err)
	}

	return &CLIPVisionEncoder{
		session:      session,
		processor:    processor,
		dimensions:   cfg.Dimensions,
		pixelTensor:  pixelTensor,
		outputTensor: outputTensor,
	}, nil
}

// EncodeImage preprocesses img and runs the vision model.
func (e *CLIPVisionEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixels := e.processor.Process(img)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.pixelTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData()[:e.dimensions])
	return embedding, nil
}

// Close destroys the session and tensors.
func (e *CLIPVisionEncoder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.pixelTensor != nil {
		_ = e.pixelTensor.Destroy()
		e.pixelTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
