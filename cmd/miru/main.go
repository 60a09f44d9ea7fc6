// Package main is the Miru CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/caption"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/imaging"
	"github.com/hyperjump/miru/internal/server"
	"github.com/hyperjump/miru/internal/storage"
	"github.com/hyperjump/miru/internal/watcher"
	"github.com/hyperjump/miru/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/miru/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "miru server" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "caption":
		runCaption()
	case "embed":
		runEmbed()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("miru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (request bodies, model loads, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	captioner := caption.NewOpenAICaptioner(&cfg.Caption)

	embedOpts := []embedding.ServiceOption{}
	var counter server.VectorCounter
	if cfg.Storage.DatabasePath != "" {
		store, storeErr := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if storeErr != nil {
			logger.Fatal("Failed to open vector store", zap.Error(storeErr))
		}
		defer store.Close()
		embedOpts = append(embedOpts, embedding.WithStore(store))
		counter = store
	}
	embedder := embedding.NewService(&cfg.Embedding, logger, embedOpts...)
	defer embedder.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.New(
			cfg.Embedding.CacheDir,
			[]string{".onnx", ".json", ".txt"},
			func(path string) {
				logger.Info("model file changed, resetting encoders", zap.String("path", path))
				embedder.Reset()
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(captioner, embedder, counter, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runCaption() {
	fs := flag.NewFlagSet("caption", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: miru caption [flags] <image-file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	text, err := captionViaHTTP(*serverURL, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Caption failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(text)
}

// captionViaHTTP uploads the image at path to a running server and returns
// the caption text.
func captionViaHTTP(serverURL, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", mimeTypeForFile(path))
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	resp, err := http.Post(serverURL+"/api/v1/caption", w.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var text string
	if err := json.NewDecoder(resp.Body).Decode(&text); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return text, nil
}

// mimeTypeForFile guesses a MIME type from the file extension.
func mimeTypeForFile(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return imaging.DefaultMIMEType
}

// embedArgsReorder moves any flags (and their values) that appear after the
// text to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func embedArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildEmbedText joins all positional args with spaces so multi-word text
// works the same with or without shell quoting.
func buildEmbedText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// buildEmbedRequest assembles the request body from CLI inputs. imagePath is
// read and base64-encoded; imageURL is passed through.
func buildEmbedRequest(text, imagePath, imageURL string) (*embedding.Request, error) {
	req := &embedding.Request{}
	if text != "" {
		req.Text = &text
	}
	if imageURL != "" {
		req.ImageURL = &imageURL
	}
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, err
		}
		encoded := imaging.EncodeBase64(data)
		req.ImageBase64 = &encoded
	}
	if req.Text == nil && req.ImageURL == nil && req.ImageBase64 == nil {
		return nil, fmt.Errorf("provide text, -image, or -image-url")
	}
	return req, nil
}

func runEmbed() {
	embedArgs := embedArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	imagePath := fs.String("image", "", "image file to embed")
	imageURL := fs.String("image-url", "", "image URL to embed")
	outputFormat := fs.String("output", "text", "output format: text (dimensions summary) or json (full vectors)")
	fs.Usage = func() { printEmbedUsage(fs) }
	_ = fs.Parse(embedArgs)

	req, err := buildEmbedRequest(buildEmbedText(fs.Args()), *imagePath, *imageURL)
	if err != nil {
		printEmbedUsage(fs)
		os.Exit(1)
	}

	result, err := embedViaHTTP(*serverURL, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if result.TextEmbedding != nil {
			fmt.Printf("text_embedding:   %d dimensions\n", len(result.TextEmbedding))
		}
		if result.ImageEmbedding != nil {
			fmt.Printf("image_embedding:  %d dimensions\n", len(result.ImageEmbedding))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func embedViaHTTP(serverURL string, req *embedding.Request) (*embedding.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/embedding", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var result embedding.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// statusResponse is the shape of the GET /api/v1/status response.
type statusResponse struct {
	CaptionProvider   string `json:"caption_provider"`
	CaptionModel      string `json:"caption_model"`
	EmbeddingModel    string `json:"embedding_model"`
	Dimensions        int    `json:"dimensions"`
	TextModelLoaded   bool   `json:"text_model_loaded"`
	VisionModelLoaded bool   `json:"vision_model_loaded"`
	CachedVectors     *int64 `json:"cached_vectors,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	status, err := statusViaHTTP(*serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("caption_provider:     %s\n", status.CaptionProvider)
		fmt.Printf("caption_model:        %s\n", status.CaptionModel)
		fmt.Printf("embedding_model:      %s\n", status.EmbeddingModel)
		fmt.Printf("dimensions:           %d\n", status.Dimensions)
		fmt.Printf("text_model_loaded:    %t\n", status.TextModelLoaded)
		fmt.Printf("vision_model_loaded:  %t\n", status.VisionModelLoaded)
		if status.CachedVectors != nil {
			fmt.Printf("cached_vectors:       %d\n", *status.CachedVectors)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printEmbedUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: miru embed [flags] [text]\n\n")
	fmt.Fprintf(fs.Output(), "Text is all remaining arguments joined by spaces. At least one of text, -image, or -image-url is required.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  miru embed a photo of a red bicycle
  miru embed "a photo of a red bicycle"       # same as above
  miru embed -image photo.jpg                 # image embedding only
  miru embed -image photo.jpg matching text   # both in one request
  miru embed -output json some text           # print the full vector
`)
}

func printUsage() {
	fmt.Println(`Miru - image captioning and CLIP embedding server

Usage:
  miru <command> [flags]

Commands:
  server    Run the HTTP API server
  caption   Caption an image via a running server
  embed     Compute text/image embeddings via a running server
  status    Show server status
  version   Print version
  help      Show this help

Use "miru <command> -h" for command flags.`)
}
