// This file implements the image generation and edit endpoints. Both
// consume one usage unit before calling the provider; a request rejected
// for quota never reaches the provider.
//
// Routes handled:
//   - POST /api/images/generate -> GenerateImage (JSON body)
//   - POST /api/images/edit     -> EditImage (multipart form)
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/identity"
	"github.com/pixelsmith-app/pixelsmith/internal/imagegen"
	"github.com/pixelsmith-app/pixelsmith/internal/service"
	"github.com/pixelsmith-app/pixelsmith/internal/storage"
)

// maxPromptLength caps prompt text. Longer prompts are rejected rather
// than truncated.
const maxPromptLength = 4000

// ImageHandler handles image generation and editing requests.
type ImageHandler struct {
	images service.ImageService
	usage  service.UsageService
	logger *slog.Logger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images service.ImageService, usage service.UsageService, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		images: images,
		usage:  usage,
		logger: logger,
	}
}

// RegisterRoutes registers image routes on the provided mux.
func (h *ImageHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity func(http.Handler) http.Handler) {
	mux.Handle("POST /api/images/generate", requireIdentity(http.HandlerFunc(h.GenerateImage)))
	mux.Handle("POST /api/images/edit", requireIdentity(http.HandlerFunc(h.EditImage)))
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateImage creates a new image from a text prompt.
func (h *ImageHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.generate_image"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid JSON body"))
		return
	}
	prompt, err := validatePrompt(op, req.Prompt)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.usage.TryConsume(r.Context(), id.UserID, id.Email, domain.ActionGenerate)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !result.Accepted {
		WriteConsumeResult(w, result)
		return
	}

	img, err := h.images.Generate(r.Context(), id.UserID, prompt)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.writeImageResponse(w, img, result)
}

// EditImage derives a new image from an uploaded source image and a prompt.
func (h *ImageHandler) EditImage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.edit_image"

	id := identity.FromContext(r.Context())
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imagegen.MaxImageSize+64*1024)
	if err := r.ParseMultipartForm(imagegen.MaxImageSize); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid multipart form"))
		return
	}

	prompt, err := validatePrompt(op, r.FormValue("prompt"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "image file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !storage.IsAllowedImageType(contentType) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "uploaded file must be an image"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, imagegen.MaxImageSize+1))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to read uploaded image"))
		return
	}
	if len(data) > imagegen.MaxImageSize {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "image exceeds the maximum allowed size"))
		return
	}

	result, err := h.usage.TryConsume(r.Context(), id.UserID, id.Email, domain.ActionEdit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !result.Accepted {
		WriteConsumeResult(w, result)
		return
	}

	img, err := h.images.Edit(r.Context(), id.UserID, prompt, data, contentType)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.writeImageResponse(w, img, result)
}

// writeImageResponse renders a stored image plus the usage state after the
// consumed unit.
func (h *ImageHandler) writeImageResponse(w http.ResponseWriter, img *service.GeneratedImage, result *domain.ConsumeResult) {
	body := map[string]any{
		"url":       img.URL,
		"usage":     result.Record.TotalUsage,
		"limit":     result.Limit,
		"remaining": result.Remaining,
	}
	if img.ThumbnailURL != "" {
		body["thumbnail_url"] = img.ThumbnailURL
	}
	WriteJSON(w, http.StatusOK, body)
}

func validatePrompt(op, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", domain.Invalid(op, "prompt is required")
	}
	if len(prompt) > maxPromptLength {
		return "", domain.Invalid(op, "prompt is too long")
	}
	return prompt, nil
}
