package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/config"
)

func testEmbeddingConfig() *config.EmbeddingConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 4
	return &cfg.Embedding
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{
		WithEncoderLoaders(
			func() (TextEncoder, error) { return NewMockTextEncoder(4), nil },
			func() (ImageEncoder, error) { return NewMockImageEncoder(4), nil },
		),
	}
	svc := NewService(testEmbeddingConfig(), zap.NewNop(), append(base, opts...)...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func strptr(s string) *string { return &s }

func TestEmbed_NoInput(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Embed(context.Background(), &Request{})
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
	if err.Error() != "Provide text, image_url, or image_base64." {
		t.Errorf("message: got %q", err.Error())
	}

	// Empty image fields count as absent.
	_, err = svc.Embed(context.Background(), &Request{ImageURL: strptr(""), ImageBase64: strptr("")})
	if !errors.Is(err, ErrNoInput) {
		t.Errorf("empty image fields: expected ErrNoInput, got %v", err)
	}
}

func TestEmbed_TextOnly(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Embed(context.Background(), &Request{Text: strptr("a cat")})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(res.TextEmbedding) != 4 {
		t.Errorf("text embedding: got %d values", len(res.TextEmbedding))
	}
	if res.ImageEmbedding != nil {
		t.Error("image embedding should be absent")
	}
}

func TestEmbed_EmptyTextStillEmbeds(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Embed(context.Background(), &Request{Text: strptr("")})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(res.TextEmbedding) != 4 {
		t.Errorf("text embedding: got %d values", len(res.TextEmbedding))
	}
}

func TestEmbed_TextAndImage(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Embed(context.Background(), &Request{
		Text:        strptr("a cat"),
		ImageBase64: strptr(pngBase64(t)),
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(res.TextEmbedding) != 4 || len(res.ImageEmbedding) != 4 {
		t.Errorf("embeddings: text=%d image=%d", len(res.TextEmbedding), len(res.ImageEmbedding))
	}
}

func TestEmbed_ImageURL(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	svc := newTestService(t)
	res, err := svc.Embed(context.Background(), &Request{ImageURL: strptr(srv.URL)})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(res.ImageEmbedding) != 4 {
		t.Errorf("image embedding: got %d values", len(res.ImageEmbedding))
	}
}

func TestEmbed_BadImage(t *testing.T) {
	svc := newTestService(t)
	bad := base64.StdEncoding.EncodeToString([]byte("not an image"))
	if _, err := svc.Embed(context.Background(), &Request{ImageBase64: strptr(bad)}); err == nil {
		t.Error("expected decode error")
	}
}

func TestEmbed_TextLoadedOnce_Concurrent(t *testing.T) {
	var loads atomic.Int64
	svc := newTestService(t, WithEncoderLoaders(
		func() (TextEncoder, error) {
			loads.Add(1)
			return NewMockTextEncoder(4), nil
		},
		func() (ImageEncoder, error) { return NewMockImageEncoder(4), nil },
	))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Embed(context.Background(), &Request{Text: strptr("same text never cached differently")})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("loader invocations: got %d, want 1", got)
	}
}

func TestEmbed_LoadFailureNotMemoized(t *testing.T) {
	var loads atomic.Int64
	svc := newTestService(t, WithEncoderLoaders(
		func() (TextEncoder, error) {
			if loads.Add(1) == 1 {
				return nil, errors.New("transient load failure")
			}
			return NewMockTextEncoder(4), nil
		},
		func() (ImageEncoder, error) { return NewMockImageEncoder(4), nil },
	))

	if _, err := svc.Embed(context.Background(), &Request{Text: strptr("x")}); err == nil {
		t.Fatal("expected first load to fail")
	}
	if _, err := svc.Embed(context.Background(), &Request{Text: strptr("x")}); err != nil {
		t.Fatalf("second attempt should retry the load: %v", err)
	}
	if loads.Load() != 2 {
		t.Errorf("loader invocations: got %d, want 2", loads.Load())
	}
}

func TestReset_ReloadsEncoders(t *testing.T) {
	var loads atomic.Int64
	var last *MockTextEncoder
	svc := newTestService(t, WithEncoderLoaders(
		func() (TextEncoder, error) {
			loads.Add(1)
			last = NewMockTextEncoder(4)
			return last, nil
		},
		func() (ImageEncoder, error) { return NewMockImageEncoder(4), nil },
	))

	if _, err := svc.Embed(context.Background(), &Request{Text: strptr("one")}); err != nil {
		t.Fatal(err)
	}
	first := last
	svc.Reset()
	if !first.Closed() {
		t.Error("Reset should close the loaded encoder")
	}
	if _, err := svc.Embed(context.Background(), &Request{Text: strptr("two")}); err != nil {
		t.Fatal(err)
	}
	if loads.Load() != 2 {
		t.Errorf("loader invocations after reset: got %d, want 2", loads.Load())
	}
}

// fakeStore records puts and serves gets from memory.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]float32
	gets int
	puts int
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return f.data[key], nil
}

func (f *fakeStore) Put(ctx context.Context, key string, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.data == nil {
		f.data = map[string][]float32{}
	}
	f.data[key] = vec
	return nil
}

func TestEmbed_PersistentStore(t *testing.T) {
	store := &fakeStore{}
	var loads atomic.Int64
	svc := newTestService(t, WithStore(store), WithEncoderLoaders(
		func() (TextEncoder, error) {
			loads.Add(1)
			return NewMockTextEncoder(4), nil
		},
		func() (ImageEncoder, error) { return NewMockImageEncoder(4), nil },
	))

	if _, err := svc.Embed(context.Background(), &Request{Text: strptr("cached")}); err != nil {
		t.Fatal(err)
	}
	if store.puts != 1 {
		t.Errorf("puts: got %d, want 1", store.puts)
	}

	// A fresh service with the same store must answer from it without loading a model.
	svc2 := NewService(testEmbeddingConfig(), zap.NewNop(), WithStore(store), WithEncoderLoaders(
		func() (TextEncoder, error) {
			t.Error("text encoder should not load on a store hit")
			return NewMockTextEncoder(4), nil
		},
		func() (ImageEncoder, error) { return NewMockImageEncoder(4), nil },
	))
	defer svc2.Close()

	res, err := svc2.Embed(context.Background(), &Request{Text: strptr("cached")})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.TextEmbedding) != 4 {
		t.Errorf("store hit: got %d values", len(res.TextEmbedding))
	}
}
