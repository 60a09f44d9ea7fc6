package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/imaging"
	"github.com/hyperjump/miru/pkg/utils"
)

// ErrNoInput is returned when a request carries none of the three inputs.
// The message is the wire contract for the 400 response body.
var ErrNoInput = errors.New("Provide text, image_url, or image_base64.")

// Request is the embedding request body. Text is a pointer because an
// explicitly empty string is still embedded; empty image fields are ignored.
type Request struct {
	Text        *string `json:"text"`
	ImageURL    *string `json:"image_url"`
	ImageBase64 *string `json:"image_base64"`
}

// Result holds whichever embeddings were computed.
type Result struct {
	TextEmbedding  []float64 `json:"text_embedding,omitempty"`
	ImageEmbedding []float64 `json:"image_embedding,omitempty"`
}

// VectorStore is an optional persistent cache for computed embeddings.
// Get returns (nil, nil) when the key is absent.
type VectorStore interface {
	Get(ctx context.Context, key string) ([]float32, error)
	Put(ctx context.Context, key string, vector []float32) error
}

// Service computes text and image embeddings. The two encoders are loaded
// lazily on first use and shared across requests; each handle is guarded by
// its own mutex so concurrent first requests trigger exactly one load.
type Service struct {
	cfg    *config.EmbeddingConfig
	logger *zap.Logger
	cache  *Cache
	store  VectorStore

	newText   func() (TextEncoder, error)
	newVision func() (ImageEncoder, error)

	textMu sync.Mutex
	text   TextEncoder

	visionMu sync.Mutex
	vision   ImageEncoder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEncoderLoaders overrides how the encoders are constructed (for tests
// and alternative backends).
func WithEncoderLoaders(newText func() (TextEncoder, error), newVision func() (ImageEncoder, error)) ServiceOption {
	return func(s *Service) {
		s.newText = newText
		s.newVision = newVision
	}
}

// WithStore attaches a persistent vector cache.
func WithStore(store VectorStore) ServiceOption {
	return func(s *Service) { s.store = store }
}

// NewService creates an embedding service. No model is loaded until the
// first request needs it.
func NewService(cfg *config.EmbeddingConfig, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:    cfg,
		logger: logger,
		cache:  NewCache(cfg.CacheSize),
	}
	s.newText = func() (TextEncoder, error) { return NewCLIPTextEncoder(cfg) }
	s.newVision = func() (ImageEncoder, error) { return NewCLIPVisionEncoder(cfg) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Embed runs the text and/or image branches of req sequentially. The first
// branch error fails the whole request; earlier results are discarded.
func (s *Service) Embed(ctx context.Context, req *Request) (*Result, error) {
	hasText := req.Text != nil
	imageURL := stringValue(req.ImageURL)
	imageBase64 := stringValue(req.ImageBase64)

	if !hasText && imageURL == "" && imageBase64 == "" {
		return nil, ErrNoInput
	}

	result := &Result{}

	if hasText {
		vec, err := s.embedText(ctx, *req.Text)
		if err != nil {
			return nil, err
		}
		result.TextEmbedding = utils.Float64s(vec)
	}

	if imageURL != "" || imageBase64 != "" {
		data, err := resolveImage(ctx, imageURL, imageBase64)
		if err != nil {
			return nil, err
		}
		vec, err := s.embedImage(ctx, data)
		if err != nil {
			return nil, err
		}
		result.ImageEmbedding = utils.Float64s(vec)
	}

	return result, nil
}

// Dimensions returns the configured embedding dimensionality.
func (s *Service) Dimensions() int {
	return s.cfg.Dimensions
}

// Loaded reports which encoders are currently resident.
func (s *Service) Loaded() (text, vision bool) {
	s.textMu.Lock()
	text = s.text != nil
	s.textMu.Unlock()
	s.visionMu.Lock()
	vision = s.vision != nil
	s.visionMu.Unlock()
	return text, vision
}

// Reset closes any loaded encoders so the next request reloads them.
// Used when model files change on disk.
func (s *Service) Reset() {
	s.textMu.Lock()
	if s.text != nil {
		if err := s.text.Close(); err != nil {
			s.logger.Warn("failed to close text encoder", zap.Error(err))
		}
		s.text = nil
	}
	s.textMu.Unlock()

	s.visionMu.Lock()
	if s.vision != nil {
		if err := s.vision.Close(); err != nil {
			s.logger.Warn("failed to close vision encoder", zap.Error(err))
		}
		s.vision = nil
	}
	s.visionMu.Unlock()
}

// Close releases both encoders.
func (s *Service) Close() error {
	s.Reset()
	return nil
}

// textEncoder returns the loaded text encoder, loading it on first use.
// A failed load is not memoized; the next caller retries.
func (s *Service) textEncoder() (TextEncoder, error) {
	s.textMu.Lock()
	defer s.textMu.Unlock()
	if s.text != nil {
		return s.text, nil
	}
	s.logger.Info("loading text encoder", zap.String("model", s.cfg.ModelID))
	enc, err := s.newText()
	if err != nil {
		return nil, fmt.Errorf("failed to load text encoder: %w", err)
	}
	s.text = enc
	return enc, nil
}

// visionEncoder returns the loaded vision encoder, loading it on first use.
func (s *Service) visionEncoder() (ImageEncoder, error) {
	s.visionMu.Lock()
	defer s.visionMu.Unlock()
	if s.vision != nil {
		return s.vision, nil
	}
	s.logger.Info("loading vision encoder", zap.String("model", s.cfg.ModelID))
	enc, err := s.newVision()
	if err != nil {
		return nil, fmt.Errorf("failed to load vision encoder: %w", err)
	}
	s.vision = enc
	return enc, nil
}

func (s *Service) embedText(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey("text", []byte(text))
	if vec, ok := s.cacheGet(ctx, key); ok {
		return vec, nil
	}

	enc, err := s.textEncoder()
	if err != nil {
		return nil, err
	}
	vec, err := enc.EncodeText(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.cfg.Normalize {
		utils.NormalizeL2(vec)
	}

	s.cachePut(ctx, key, vec)
	return vec, nil
}

func (s *Service) embedImage(ctx context.Context, data []byte) ([]float32, error) {
	key := cacheKey("image", data)
	if vec, ok := s.cacheGet(ctx, key); ok {
		return vec, nil
	}

	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	enc, err := s.visionEncoder()
	if err != nil {
		return nil, err
	}
	vec, err := enc.EncodeImage(ctx, img)
	if err != nil {
		return nil, err
	}
	if s.cfg.Normalize {
		utils.NormalizeL2(vec)
	}

	s.cachePut(ctx, key, vec)
	return vec, nil
}

// cacheGet consults the in-memory LRU, then the persistent store.
func (s *Service) cacheGet(ctx context.Context, key string) ([]float32, bool) {
	if vec, ok := s.cache.Get(key); ok {
		return vec, true
	}
	if s.store == nil {
		return nil, false
	}
	vec, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("vector store get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if vec == nil {
		return nil, false
	}
	s.cache.Set(key, vec)
	return vec, true
}

func (s *Service) cachePut(ctx context.Context, key string, vec []float32) {
	s.cache.Set(key, vec)
	if s.store == nil {
		return
	}
	if err := s.store.Put(ctx, key, vec); err != nil {
		s.logger.Warn("vector store put failed", zap.String("key", key), zap.Error(err))
	}
}

// resolveImage turns the request's image fields into raw bytes. The URL
// takes precedence when both are present.
func resolveImage(ctx context.Context, imageURL, imageBase64 string) ([]byte, error) {
	if imageURL != "" {
		return imaging.Fetch(ctx, imageURL)
	}
	return imaging.DecodeBase64(imageBase64)
}

// cacheKey derives a stable key from the input kind and content.
func cacheKey(kind string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(content)
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
