// Package service contains the business logic layer.
//
// This file implements the image service: calling the image provider and
// persisting the result plus a browsable thumbnail. Quota enforcement
// happens before this service is invoked; a provider failure after the
// unit was consumed is surfaced as-is without refunding usage.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"github.com/pixelsmith-app/pixelsmith/internal/domain"
	"github.com/pixelsmith-app/pixelsmith/internal/imagegen"
	"github.com/pixelsmith-app/pixelsmith/internal/metrics"
	"github.com/pixelsmith-app/pixelsmith/internal/storage"
)

const (
	thumbnailMaxWidth   = 512
	thumbnailMaxHeight  = 512
	thumbnailQuality    = 85
	storedImageURLValid = 7 * 24 * time.Hour
)

// GeneratedImage is the stored result of a generate or edit call.
type GeneratedImage struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// ImageService produces and stores images via the configured provider.
type ImageService interface {
	// Generate creates an image from a prompt and stores it under the
	// user's key space.
	Generate(ctx context.Context, userID, prompt string) (*GeneratedImage, error)

	// Edit derives a new image from a source image and a prompt.
	Edit(ctx context.Context, userID, prompt string, imageData []byte, contentType string) (*GeneratedImage, error)
}

// =============================================================================
// Implementation
// =============================================================================

type imageService struct {
	provider imagegen.Provider
	store    storage.Storage
	logger   *slog.Logger
}

// NewImageService creates a new ImageService.
func NewImageService(provider imagegen.Provider, store storage.Storage, logger *slog.Logger) ImageService {
	return &imageService{
		provider: provider,
		store:    store,
		logger:   logger,
	}
}

func (s *imageService) Generate(ctx context.Context, userID, prompt string) (*GeneratedImage, error) {
	const op = "image.generate"

	result, err := s.provider.Generate(ctx, imagegen.GenerateParams{Prompt: prompt})
	if err != nil {
		metrics.ImageProviderCalls.WithLabelValues("generate", "error").Inc()
		return nil, providerError(op, err)
	}
	metrics.ImageProviderCalls.WithLabelValues("generate", "ok").Inc()

	return s.persist(ctx, op, userID, result)
}

func (s *imageService) Edit(ctx context.Context, userID, prompt string, imageData []byte, contentType string) (*GeneratedImage, error) {
	const op = "image.edit"

	result, err := s.provider.Edit(ctx, imagegen.EditParams{
		Prompt:      prompt,
		ImageData:   imageData,
		ContentType: contentType,
	})
	if err != nil {
		metrics.ImageProviderCalls.WithLabelValues("edit", "error").Inc()
		return nil, providerError(op, err)
	}
	metrics.ImageProviderCalls.WithLabelValues("edit", "ok").Inc()

	return s.persist(ctx, op, userID, result)
}

// persist stores inline provider output and returns URLs for it. Hosted
// provider output is passed through untouched.
func (s *imageService) persist(ctx context.Context, op, userID string, result *imagegen.Result) (*GeneratedImage, error) {
	if len(result.Data) == 0 {
		return &GeneratedImage{URL: result.URL}, nil
	}

	key := storage.ImageKey(userID, result.ContentType)
	err := s.store.Put(ctx, key, bytes.NewReader(result.Data), storage.PutOptions{
		ContentType: result.ContentType,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to store image")
	}

	url, err := s.store.URL(ctx, key, storedImageURLValid)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to build image URL")
	}

	generated := &GeneratedImage{URL: url}

	// Thumbnail failures are logged, not fatal; the full image is already
	// stored and usable.
	if thumbURL, err := s.storeThumbnail(ctx, userID, result.Data); err != nil {
		s.logger.Warn("thumbnail generation failed", "error", err, "key", key)
	} else {
		generated.ThumbnailURL = thumbURL
	}

	return generated, nil
}

func (s *imageService) storeThumbnail(ctx context.Context, userID string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, thumbnailMaxWidth, thumbnailMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := storage.ThumbnailKey(userID, "image/jpeg")
	err = s.store.Put(ctx, key, &buf, storage.PutOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("store thumbnail: %w", err)
	}

	return s.store.URL(ctx, key, storedImageURLValid)
}

// providerError translates provider failures into the error taxonomy.
func providerError(op string, err error) error {
	switch {
	case errors.Is(err, imagegen.ErrRateLimited):
		return &domain.Error{Code: domain.ERATELIMIT, Op: op, Message: "image provider rate limit exceeded, try again later", Err: err}
	case errors.Is(err, imagegen.ErrPaymentRequired):
		return &domain.Error{Code: domain.EPAYMENT, Op: op, Message: "image provider credits exhausted", Err: err}
	default:
		return domain.Internal(err, op, "image provider request failed")
	}
}
