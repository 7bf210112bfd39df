// Package handler exposes the production import pipeline over HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/recipes"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/service"
)

const defaultHistoryLimit = 50

// Handler serves the production import endpoints.
type Handler struct {
	svc            *service.ImportService
	logger         *slog.Logger
	maxUploadBytes int64
	limiter        *rate.Limiter
}

// New creates a handler. maxUploadBytes caps each uploaded file.
func New(svc *service.ImportService, logger *slog.Logger, maxUploadBytes int64, limiter *rate.Limiter) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 << 20
	}
	return &Handler{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes, limiter: limiter}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/production/imports", h.throttle(http.HandlerFunc(h.importFiles)))
	mux.HandleFunc("GET /v1/production/imports", h.listHistory)
	mux.HandleFunc("GET /v1/production/recipe-mappings", h.listMappings)
	mux.Handle("POST /v1/production/recipe-mappings", h.throttle(http.HandlerFunc(h.saveMappings)))
	mux.HandleFunc("GET /v1/production/recipe-mappings/suggestions", h.suggestMappings)
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			h.respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// importFiles accepts a multipart upload with one or more "files" parts and
// imports them sequentially. The response always reports per-file outcomes;
// a partially successful upload is 200.
func (h *Handler) importFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		h.respondError(w, http.StatusBadRequest, "no files uploaded, use multipart field 'files'")
		return
	}

	files := make([]service.UploadFile, 0, len(parts))
	for _, part := range parts {
		data, err := readPart(part, h.maxUploadBytes)
		if err != nil {
			h.respondError(w, http.StatusRequestEntityTooLarge, part.Filename+": "+err.Error())
			return
		}
		files = append(files, service.UploadFile{Name: part.Filename, Data: data})
	}

	statuses := h.svc.ImportFiles(r.Context(), files)
	h.respondJSON(w, http.StatusOK, map[string]any{"files": statuses})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	entries, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list import history", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "failed to list import history")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	table, err := h.svc.Mappings(r.Context())
	if err != nil {
		h.logger.Error("failed to list recipe mappings", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "failed to list recipe mappings")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"mappings": table})
}

type mappingRequest struct {
	OriginalName  string `json:"original_name"`
	CanonicalName string `json:"canonical_name"`
}

// saveMappings stores recipe mappings. A JSON body saves one mapping; a
// text/csv body (or a "mappings" multipart file) bulk-loads a two-column
// original_name,canonical_name table.
func (h *Handler) saveMappings(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/csv"):
		h.saveMappingCSV(w, r, io.LimitReader(r.Body, h.maxUploadBytes))
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()
		parts := r.MultipartForm.File["mappings"]
		if len(parts) == 0 {
			h.respondError(w, http.StatusBadRequest, "no mapping file uploaded, use multipart field 'mappings'")
			return
		}
		file, err := parts[0].Open()
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "cannot read mapping file")
			return
		}
		defer file.Close()
		h.saveMappingCSV(w, r, file)
	default:
		var req mappingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		req.OriginalName = strings.TrimSpace(req.OriginalName)
		req.CanonicalName = strings.TrimSpace(req.CanonicalName)
		if req.OriginalName == "" || req.CanonicalName == "" {
			h.respondError(w, http.StatusBadRequest, "original_name and canonical_name are required")
			return
		}
		if err := h.svc.SaveMapping(r.Context(), req.OriginalName, req.CanonicalName); err != nil {
			h.logger.Error("failed to save recipe mapping", slog.Any("error", err))
			h.respondError(w, http.StatusInternalServerError, "failed to save recipe mapping")
			return
		}
		h.respondJSON(w, http.StatusCreated, map[string]any{"saved": 1})
	}
}

func (h *Handler) saveMappingCSV(w http.ResponseWriter, r *http.Request, body io.Reader) {
	table, err := recipes.LoadMappingCSV(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.svc.ImportMappingCSV(r.Context(), table)
	if err != nil {
		h.logger.Error("failed to import mapping csv", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "failed to import mapping csv")
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{"saved": saved})
}

func (h *Handler) suggestMappings(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	limit := queryInt(r, "limit", 5)
	suggestions := h.svc.SuggestMapping(name, limit)
	h.respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func readPart(part *multipart.FileHeader, limit int64) ([]byte, error) {
	file, err := part.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds %d byte limit", limit)
	}
	return data, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
