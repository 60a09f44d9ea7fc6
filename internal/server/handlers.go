package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/pkg/utils"
)

// Response bodies fixed by the API contract.
const (
	errNoImageFile   = "No image file provided"
	errCaptionFailed = "Failed to process image"
)

func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errNoImageFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("caption: failed to read upload",
			zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, errCaptionFailed)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	s.logger.Debug("caption request",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("filename", header.Filename),
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(data)))

	text, err := s.captioner.Caption(r.Context(), data, mimeType)
	if err != nil {
		s.logger.Error("caption failed",
			zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, errCaptionFailed)
		return
	}

	s.logger.Debug("caption produced",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("caption", utils.Truncate(text, 120)))
	s.respondJSON(w, http.StatusOK, text)
}

func (s *Server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	var req embedding.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.embedder.Embed(r.Context(), &req)
	if err != nil {
		if errors.Is(err, embedding.ErrNoInput) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("embedding failed",
			zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	textLoaded, visionLoaded := s.embedder.Loaded()
	resp := map[string]interface{}{
		"caption_provider":    s.captioner.Name(),
		"caption_model":       s.config.Caption.Model,
		"embedding_model":     s.config.Embedding.ModelID,
		"dimensions":          s.embedder.Dimensions(),
		"text_model_loaded":   textLoaded,
		"vision_model_loaded": visionLoaded,
	}
	if s.counter != nil {
		n, err := s.counter.Count(r.Context())
		if err != nil {
			s.logger.Error("status: count vectors failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["cached_vectors"] = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
