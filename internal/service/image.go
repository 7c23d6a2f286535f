// Package service contains the business logic layer.
//
// This file implements the image service for listing, deleting and liking
// enhancement records.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/storage"
)

// DefaultImageListLimit caps a gallery page.
const DefaultImageListLimit = 100

// =============================================================================
// Interface Definition
// =============================================================================

// ImageService defines the interface for image record operations.
type ImageService interface {
	// List returns the user's images, newest first.
	List(ctx context.Context, userID string) ([]domain.Image, error)

	// Delete removes an image record and both of its stored artifacts.
	// Returns domain.ENOTFOUND if the image does not exist or belongs to
	// another user.
	Delete(ctx context.Context, userID string, id uuid.UUID) error

	// Like increments an image's like counter and returns the new count.
	// Returns domain.ENOTFOUND for an unknown image.
	Like(ctx context.Context, id uuid.UUID) (int, error)
}

// ImageStore is the persistence surface the image service needs.
type ImageStore interface {
	GetImage(ctx context.Context, id uuid.UUID) (domain.Image, error)
	ListImagesByUser(ctx context.Context, userID string, limit int) ([]domain.Image, error)
	DeleteImage(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	IncrementImageLikes(ctx context.Context, id uuid.UUID) (int, error)
}

// =============================================================================
// Implementation
// =============================================================================

type imageService struct {
	store   ImageStore
	objects storage.Storage
	logger  *slog.Logger
}

// NewImageService creates a new ImageService.
func NewImageService(store ImageStore, objects storage.Storage, logger *slog.Logger) ImageService {
	return &imageService{
		store:   store,
		objects: objects,
		logger:  logger,
	}
}

// List returns the user's images, newest first.
func (s *imageService) List(ctx context.Context, userID string) ([]domain.Image, error) {
	const op = "service.list_images"

	if userID == "" {
		return nil, domain.Unauthorized(op, "Sign in to continue.")
	}

	images, err := s.store.ListImagesByUser(ctx, userID, DefaultImageListLimit)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list images")
	}
	return images, nil
}

// Delete removes an image record and both stored artifacts. Ownership is
// enforced by the guarded delete; the record goes first so a crash leaves an
// orphaned object for the sweep rather than a record pointing nowhere.
func (s *imageService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	const op = "service.delete_image"

	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "image", id.String())
		}
		return domain.Internal(err, op, "failed to load image")
	}

	deleted, err := s.store.DeleteImage(ctx, id, userID)
	if err != nil {
		return domain.Internal(err, op, "failed to delete image")
	}
	if !deleted {
		// Exists but is not ours. Report not-found to avoid confirming the
		// image's existence to other users.
		return domain.NotFound(op, "image", id.String())
	}

	for _, key := range []string{img.OriginalKey, img.EnhancedKey} {
		if key == "" {
			continue
		}
		if err := s.objects.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete stored artifact",
				"image_id", id, "key", key, "error", err)
		}
	}

	s.logger.Info("image deleted", "user_id", userID, "image_id", id)
	return nil
}

// Like increments an image's like counter.
func (s *imageService) Like(ctx context.Context, id uuid.UUID) (int, error) {
	const op = "service.like_image"

	likes, err := s.store.IncrementImageLikes(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NotFound(op, "image", id.String())
		}
		return 0, domain.Internal(err, op, "failed to record like")
	}
	return likes, nil
}
