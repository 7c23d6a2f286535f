// Package service contains the business logic layer.
//
// This file implements the retention sweep: images past the retention
// window lose their record and both stored artifacts. The sweep is invoked
// by an external scheduler through a keyed endpoint.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/email"
	"github.com/pixelift/pixelift/internal/metrics"
	"github.com/pixelift/pixelift/internal/storage"
)

// sweepBatchSize bounds a single listing query.
const sweepBatchSize = 200

// =============================================================================
// Interface Definition
// =============================================================================

// SweepResult summarizes a retention sweep run.
type SweepResult struct {
	Scanned    int   // expired records examined
	Deleted    int   // records fully removed
	Failed     int   // records left for the next run after an object error
	TotalBytes int64 // recorded bytes remaining after the sweep
}

// RetentionService defines the interface for the retention sweep.
type RetentionService interface {
	// Sweep removes every image past the retention window. Object deletion
	// failures leave the record in place so the next run retries.
	Sweep(ctx context.Context) (*SweepResult, error)
}

// RetentionStore is the persistence surface the sweep needs.
type RetentionStore interface {
	ListImagesBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Image, error)
	DeleteImageByID(ctx context.Context, id uuid.UUID) error
	SumImageBytes(ctx context.Context) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type retentionService struct {
	store      RetentionStore
	objects    storage.Storage
	emails     email.EmailService // nil disables alerts
	alertBytes int64
	alertTo    string
	logger     *slog.Logger
}

// NewRetentionService creates a new RetentionService. alertBytes of zero
// disables the storage alert.
func NewRetentionService(
	store RetentionStore,
	objects storage.Storage,
	emails email.EmailService,
	alertBytes int64,
	alertTo string,
	logger *slog.Logger,
) RetentionService {
	return &retentionService{
		store:      store,
		objects:    objects,
		emails:     emails,
		alertBytes: alertBytes,
		alertTo:    alertTo,
		logger:     logger,
	}
}

// Sweep removes expired images in batches until none remain.
func (s *retentionService) Sweep(ctx context.Context) (*SweepResult, error) {
	const op = "service.retention_sweep"

	cutoff := time.Now().UTC().Add(-domain.RetentionAge)
	result := &SweepResult{}

	for {
		batch, err := s.store.ListImagesBefore(ctx, cutoff, sweepBatchSize)
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues("failed").Inc()
			return result, domain.Internal(err, op, "failed to list expired images")
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, img := range batch {
			result.Scanned++
			if s.sweepOne(ctx, img) {
				result.Deleted++
				progressed = true
			} else {
				result.Failed++
			}
		}

		// Every record in the batch failed object deletion; looping again
		// would list the same records forever.
		if !progressed {
			break
		}
		if len(batch) < sweepBatchSize {
			break
		}
	}

	metrics.SweepDeletionsTotal.Add(float64(result.Deleted))
	metrics.SweepRunsTotal.WithLabelValues("success").Inc()

	total, err := s.store.SumImageBytes(ctx)
	if err != nil {
		s.logger.Warn("failed to total stored bytes after sweep", "error", err)
	} else {
		result.TotalBytes = total
		metrics.StoredBytes.Set(float64(total))
		s.maybeAlert(ctx, total)
	}

	s.logger.Info("retention sweep complete",
		"scanned", result.Scanned, "deleted", result.Deleted,
		"failed", result.Failed, "total_bytes", result.TotalBytes)
	return result, nil
}

// sweepOne removes one image's objects then its record. Objects go first:
// if an object delete fails the record stays, and the next run retries;
// the reverse order would orphan objects with nothing pointing at them.
func (s *retentionService) sweepOne(ctx context.Context, img domain.Image) bool {
	for _, key := range []string{img.OriginalKey, img.EnhancedKey} {
		if key == "" {
			continue
		}
		if err := s.objects.Delete(ctx, key); err != nil {
			s.logger.Warn("sweep: failed to delete artifact",
				"image_id", img.ID, "key", key, "error", err)
			return false
		}
	}

	if err := s.store.DeleteImageByID(ctx, img.ID); err != nil {
		s.logger.Warn("sweep: failed to delete record",
			"image_id", img.ID, "error", err)
		return false
	}
	return true
}

// maybeAlert emails operations when usage crosses the configured threshold.
func (s *retentionService) maybeAlert(ctx context.Context, total int64) {
	if s.emails == nil || s.alertBytes <= 0 || s.alertTo == "" {
		return
	}
	if total <= s.alertBytes {
		return
	}
	if err := s.emails.SendStorageAlert(ctx, s.alertTo, total, s.alertBytes); err != nil {
		s.logger.Error("failed to send storage alert", "error", err)
	}
}
