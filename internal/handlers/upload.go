package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/storage"
)

const (
	maxImageBytes      = 5 << 20
	maxMultipartMemory = maxImageBytes + 1<<20
	formFieldImage     = "image"
)

var (
	imageExtPattern  = regexp.MustCompile(`^\.(jpe?g|png|webp)$`)
	imageMimePattern = regexp.MustCompile(`^image/(jpe?g|png|webp)$`)
)

// UploadHandler stores product images and serves them back.
type UploadHandler struct {
	images *storage.Storage
	resp   Responder
}

func NewUploadHandler(images *storage.Storage, resp Responder) *UploadHandler {
	return &UploadHandler{images: images, resp: resp}
}

// UploadRouter registers POST / for image uploads.
func UploadRouter(r chi.Router, images *storage.Storage, resp Responder) {
	handler := NewUploadHandler(images, resp)
	r.Post("/", handler.Upload)
}

// ImageRouter registers GET /{key} for stored images.
func ImageRouter(r chi.Router, images *storage.Storage, resp Responder) {
	handler := NewUploadHandler(images, resp)
	r.Get("/{key}", handler.Serve)
}

// Upload accepts a single multipart image and responds with its public path.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.resp.Error(w, r, badRequest("uploaded file too large"))
			return
		}
		h.resp.Error(w, r, badRequest("invalid multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(formFieldImage)
	if err != nil {
		h.resp.Error(w, r, badRequest("image file is required"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExtPattern.MatchString(ext) {
		h.resp.Error(w, r, badRequest("Images only!"))
		return
	}

	data, err := readFileLimited(file, maxImageBytes)
	if err != nil {
		h.resp.Error(w, r, badRequest(err.Error()))
		return
	}
	contentType := http.DetectContentType(data)
	if !imageMimePattern.MatchString(contentType) {
		h.resp.Error(w, r, badRequest("Images only!"))
		return
	}

	key, err := h.images.SaveImage(r.Context(), ext, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("image uploaded", "key", key, "bytes", len(data))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, storage.URLPath(key))
}

// Serve streams a stored image.
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	obj, err := h.images.Open(r.Context(), key)
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Image not found"))
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		logger.FromContext(r.Context()).Warn("image stream interrupted", "key", key, "error", err)
	}
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
