// Package service contains the business logic layer.
//
// This file implements the enhancement orchestrator. Every enhancement runs
// the same sequence: resolve the profile, reconcile it, check entitlement,
// store the original, produce the enhanced artifact, charge the credit, and
// only then write the image record. A failure before the charge costs the
// user nothing; a failure after the charge is reported as an unknown outcome
// rather than silently refunded.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/enhance"
	"github.com/pixelift/pixelift/internal/entitlement"
	"github.com/pixelift/pixelift/internal/guest"
	"github.com/pixelift/pixelift/internal/inference"
	"github.com/pixelift/pixelift/internal/metrics"
	"github.com/pixelift/pixelift/internal/storage"
)

// MaxUploadBytes bounds uploaded originals (15 MB).
const MaxUploadBytes = 15 << 20

// =============================================================================
// Interface Definition
// =============================================================================

// Upload is a raw image upload.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// GuestEnhanceResult is the outcome of a guest AI enhancement. Guests have
// no profile, so the enhanced bytes are returned directly together with the
// re-signed usage token.
type GuestEnhanceResult struct {
	Data        []byte
	ContentType string
	Token       string
}

// QuotaExhaustedError reports a guest quota wall. The request that hit the
// wall is staged under StageID so it can be resumed after sign-up.
type QuotaExhaustedError struct {
	StageID uuid.UUID
	Token   string
	Err     error
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("guest quota exhausted (staged as %s): %v", e.StageID, e.Err)
}

func (e *QuotaExhaustedError) Unwrap() error {
	return e.Err
}

// EnhanceService defines the interface for enhancement operations.
type EnhanceService interface {
	// Enhance runs a filter enhancement for a signed-in user.
	// Returns domain.EPAYMENT when the profile has no credit left.
	Enhance(ctx context.Context, userID string, upload Upload, filter enhance.Filter) (*domain.Image, error)

	// EnhanceAI runs an AI enhancement for a signed-in user.
	// Returns domain.EPAYMENT when the profile has no AI credit left.
	EnhanceAI(ctx context.Context, userID string, upload Upload, model inference.Model) (*domain.Image, error)

	// GuestEnhanceAI runs an AI enhancement for a guest identified by a
	// signed usage token. Returns *QuotaExhaustedError when the guest quota
	// is spent; the request is staged for resumption after sign-up.
	GuestEnhanceAI(ctx context.Context, rawToken string, upload Upload, model inference.Model) (*GuestEnhanceResult, error)

	// Resume replays a staged guest request as the newly signed-in user.
	// Returns domain.EGONE when the staged request expired or was claimed.
	Resume(ctx context.Context, userID string, stageID uuid.UUID) (*domain.Image, error)
}

// EnhanceStore is the persistence surface the orchestrator needs.
type EnhanceStore interface {
	SpendCredit(ctx context.Context, userID string) (bool, error)
	SpendAICredit(ctx context.Context, userID string) (bool, error)
	CreateImage(ctx context.Context, img domain.Image) error
}

// =============================================================================
// Implementation
// =============================================================================

type enhanceService struct {
	entitlements     *entitlement.Service
	store            EnhanceStore
	objects          storage.Storage
	inference        inference.Provider
	guests           *guest.Tracker
	stages           *guest.StageStore
	inferenceTimeout time.Duration
	logger           *slog.Logger
}

// NewEnhanceService creates a new EnhanceService.
func NewEnhanceService(
	entitlements *entitlement.Service,
	store EnhanceStore,
	objects storage.Storage,
	provider inference.Provider,
	guests *guest.Tracker,
	stages *guest.StageStore,
	inferenceTimeout time.Duration,
	logger *slog.Logger,
) EnhanceService {
	return &enhanceService{
		entitlements:     entitlements,
		store:            store,
		objects:          objects,
		inference:        provider,
		guests:           guests,
		stages:           stages,
		inferenceTimeout: inferenceTimeout,
		logger:           logger,
	}
}

// =============================================================================
// Filter Enhancement
// =============================================================================

func (s *enhanceService) Enhance(ctx context.Context, userID string, upload Upload, filter enhance.Filter) (*domain.Image, error) {
	const op = "service.enhance"
	start := time.Now()

	if !filter.Valid() {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown filter %q", filter))
	}
	contentType, err := validateUpload(op, upload)
	if err != nil {
		return nil, err
	}

	p, err := s.resolveReconciled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.entitlements.CheckEnhance(&p); err != nil {
		return nil, err
	}

	originalKey := storage.OriginalKey(userID, upload.Filename)
	if err := s.putObject(ctx, op, originalKey, upload.Data, contentType); err != nil {
		return nil, err
	}

	enhanced, err := enhance.Apply(bytes.NewReader(upload.Data), filter)
	if err != nil {
		s.cleanup(ctx, originalKey)
		metrics.EnhancementsTotal.WithLabelValues("filter", "failed").Inc()
		return nil, domain.Invalid(op, "The image could not be decoded. Upload a JPEG, PNG or WebP file.")
	}

	enhancedKey := storage.EnhancedKey(userID, "image/jpeg")
	if err := s.putObject(ctx, op, enhancedKey, enhanced, "image/jpeg"); err != nil {
		s.cleanup(ctx, originalKey)
		return nil, err
	}

	// Charge only after both artifacts exist. A raced last credit is a
	// payment error, not a server error.
	ok, err := s.store.SpendCredit(ctx, userID)
	if err != nil {
		s.cleanup(ctx, originalKey, enhancedKey)
		return nil, domain.Internal(err, op, "failed to charge credit")
	}
	if !ok {
		s.cleanup(ctx, originalKey, enhancedKey)
		metrics.EnhancementsTotal.WithLabelValues("filter", "raced").Inc()
		return nil, domain.NeedsPurchase(op, "Your last credit was just used by another request.")
	}
	metrics.CreditsSpentTotal.WithLabelValues("filter").Inc()

	img, err := s.record(ctx, op, userID, originalKey, enhancedKey,
		int64(len(upload.Data)+len(enhanced)), false, filter.Label())
	if err != nil {
		return nil, err
	}

	metrics.EnhancementsTotal.WithLabelValues("filter", "success").Inc()
	metrics.EnhancementDuration.WithLabelValues("filter").Observe(time.Since(start).Seconds())
	s.logger.Info("enhancement complete",
		"user_id", userID, "image_id", img.ID, "filter", filter)
	return img, nil
}

// =============================================================================
// AI Enhancement
// =============================================================================

func (s *enhanceService) EnhanceAI(ctx context.Context, userID string, upload Upload, model inference.Model) (*domain.Image, error) {
	const op = "service.enhance_ai"
	start := time.Now()

	if !model.Valid() {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown model %q", model))
	}
	contentType, err := validateUpload(op, upload)
	if err != nil {
		return nil, err
	}

	p, err := s.resolveReconciled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.entitlements.EnsureTrialCredits(ctx, &p); err != nil {
		return nil, err
	}
	if err := s.entitlements.CheckAIEnhance(&p); err != nil {
		return nil, err
	}

	// The inference provider fetches the original by URL, so it has to be
	// stored before the call.
	originalKey := storage.OriginalKey(userID, upload.Filename)
	if err := s.putObject(ctx, op, originalKey, upload.Data, contentType); err != nil {
		return nil, err
	}
	originalURL, err := s.objects.URL(ctx, originalKey, 0)
	if err != nil {
		s.cleanup(ctx, originalKey)
		return nil, domain.Internal(err, op, "failed to resolve original URL")
	}

	result, err := s.infer(ctx, originalURL, model)
	if err != nil {
		s.cleanup(ctx, originalKey)
		metrics.EnhancementsTotal.WithLabelValues("ai", "failed").Inc()
		return nil, err
	}

	enhancedKey := storage.EnhancedKey(userID, result.ContentType)
	if err := s.putObject(ctx, op, enhancedKey, result.Data, result.ContentType); err != nil {
		s.cleanup(ctx, originalKey)
		return nil, err
	}

	ok, err := s.store.SpendAICredit(ctx, userID)
	if err != nil {
		s.cleanup(ctx, originalKey, enhancedKey)
		return nil, domain.Internal(err, op, "failed to charge AI credit")
	}
	if !ok {
		s.cleanup(ctx, originalKey, enhancedKey)
		metrics.EnhancementsTotal.WithLabelValues("ai", "raced").Inc()
		return nil, domain.NeedsPurchase(op, "Your last AI credit was just used by another request.")
	}
	metrics.CreditsSpentTotal.WithLabelValues("ai").Inc()

	img, err := s.record(ctx, op, userID, originalKey, enhancedKey,
		int64(len(upload.Data)+len(result.Data)), true, model.Label())
	if err != nil {
		return nil, err
	}

	metrics.EnhancementsTotal.WithLabelValues("ai", "success").Inc()
	metrics.EnhancementDuration.WithLabelValues("ai").Observe(time.Since(start).Seconds())
	s.logger.Info("AI enhancement complete",
		"user_id", userID, "image_id", img.ID, "model", model)
	return img, nil
}

// =============================================================================
// Guest AI Enhancement
// =============================================================================

func (s *enhanceService) GuestEnhanceAI(ctx context.Context, rawToken string, upload Upload, model inference.Model) (*GuestEnhanceResult, error) {
	const op = "service.guest_enhance_ai"

	if !model.Valid() {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown model %q", model))
	}
	contentType, err := validateUpload(op, upload)
	if err != nil {
		return nil, err
	}

	// The guest counter is a UX gate, not a security boundary: a missing or
	// tampered token starts a fresh session instead of failing.
	tok, err := s.guests.Decode(rawToken)
	if err != nil {
		tok = s.guests.NewToken()
	}

	if err := s.entitlements.CheckGuestAIEnhance(tok.Used); err != nil {
		stageID := s.stages.Put(guest.StagedRequest{
			Image:       upload.Data,
			ContentType: contentType,
			Model:       string(model),
		})
		s.logger.Info("guest quota wall: request staged",
			"session_id", tok.SessionID, "stage_id", stageID)
		return nil, &QuotaExhaustedError{
			StageID: stageID,
			Token:   s.guests.Encode(tok),
			Err:     err,
		}
	}

	originalKey := storage.GuestKey(tok.SessionID, contentType)
	if err := s.putObject(ctx, op, originalKey, upload.Data, contentType); err != nil {
		return nil, err
	}
	// Guest originals are scratch space for the inference call.
	defer s.cleanup(ctx, originalKey)

	originalURL, err := s.objects.URL(ctx, originalKey, 0)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve original URL")
	}

	result, err := s.infer(ctx, originalURL, model)
	if err != nil {
		metrics.EnhancementsTotal.WithLabelValues("ai", "failed").Inc()
		return nil, err
	}

	tok.Used++
	metrics.EnhancementsTotal.WithLabelValues("ai", "success").Inc()
	s.logger.Info("guest AI enhancement complete",
		"session_id", tok.SessionID, "used", tok.Used, "model", model)

	return &GuestEnhanceResult{
		Data:        result.Data,
		ContentType: result.ContentType,
		Token:       s.guests.Encode(tok),
	}, nil
}

// =============================================================================
// Staged Resume
// =============================================================================

func (s *enhanceService) Resume(ctx context.Context, userID string, stageID uuid.UUID) (*domain.Image, error) {
	const op = "service.resume"

	staged, ok := s.stages.Claim(stageID)
	if !ok {
		return nil, domain.Errorf(domain.EGONE, op, "That request expired. Upload the image again.")
	}

	upload := Upload{
		Data:        staged.Image,
		ContentType: staged.ContentType,
		Filename:    "staged",
	}
	return s.EnhanceAI(ctx, userID, upload, inference.Model(staged.Model))
}

// =============================================================================
// Internal Helpers
// =============================================================================

// resolveReconciled loads the profile and reconciles it against the billing
// platform before any entitlement check.
func (s *enhanceService) resolveReconciled(ctx context.Context, userID string) (domain.Profile, error) {
	p, err := s.entitlements.ResolveProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	rec, err := s.entitlements.Reconcile(ctx, p)
	if err != nil {
		return domain.Profile{}, err
	}
	metrics.ReconciliationsTotal.WithLabelValues(reconcileOutcome(rec)).Inc()
	return rec.Profile, nil
}

// infer runs the inference provider under the configured timeout and maps
// its failures onto the domain error taxonomy.
func (s *enhanceService) infer(ctx context.Context, imageURL string, model inference.Model) (*inference.EnhanceResult, error) {
	const op = "service.infer"

	inferCtx, cancel := context.WithTimeout(ctx, s.inferenceTimeout)
	defer cancel()

	result, err := s.inference.Enhance(inferCtx, inference.EnhanceParams{
		ImageURL: imageURL,
		Model:    model,
	})
	if err != nil {
		metrics.InferenceCalls.WithLabelValues("failed").Inc()
		if errors.Is(err, inference.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.Upstream(err, op, "The enhancement took too long. Try again.")
		}
		return nil, domain.Upstream(err, op, "The enhancement service is unavailable. Try again shortly.")
	}
	metrics.InferenceCalls.WithLabelValues("success").Inc()
	return result, nil
}

// putObject stores a byte slice and maps storage failures onto domain errors.
func (s *enhanceService) putObject(ctx context.Context, op, key string, data []byte, contentType string) error {
	err := s.objects.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType: contentType,
		MaxSize:     MaxUploadBytes,
		Public:      true,
	})
	if err != nil {
		if storage.IsTooLarge(err) {
			return domain.Errorf(domain.ETOOLARGE, op, "The image is too large. Maximum size is 15 MB.")
		}
		return domain.Internal(err, op, "failed to store image")
	}
	return nil
}

// record writes the image row. The credit is already spent at this point: a
// write failure is an unknown outcome and is surfaced as such, not refunded.
func (s *enhanceService) record(ctx context.Context, op, userID, originalKey, enhancedKey string, sizeBytes int64, ai bool, label string) (*domain.Image, error) {
	originalURL, err := s.objects.URL(ctx, originalKey, 0)
	if err != nil {
		return nil, domain.Internal(err, op, "enhancement finished but could not be recorded")
	}
	enhancedURL, err := s.objects.URL(ctx, enhancedKey, 0)
	if err != nil {
		return nil, domain.Internal(err, op, "enhancement finished but could not be recorded")
	}

	img := domain.Image{
		ID:          uuid.New(),
		UserID:      userID,
		OriginalURL: originalURL,
		EnhancedURL: enhancedURL,
		OriginalKey: originalKey,
		EnhancedKey: enhancedKey,
		PromptLabel: label,
		AI:          ai,
		SizeBytes:   sizeBytes,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateImage(ctx, img); err != nil {
		s.logger.Error("image record write failed after charge",
			"user_id", userID, "original_key", originalKey, "error", err)
		return nil, domain.Internal(err, op, "enhancement finished but could not be recorded")
	}
	return &img, nil
}

// cleanup is a best-effort delete of partially written artifacts.
func (s *enhanceService) cleanup(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to clean up artifact", "key", key, "error", err)
		}
	}
}

// validateUpload checks size and content type and returns the resolved type.
func validateUpload(op string, upload Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", domain.Invalid(op, "No image was uploaded.")
	}
	if len(upload.Data) > MaxUploadBytes {
		return "", domain.Errorf(domain.ETOOLARGE, op, "The image is too large. Maximum size is 15 MB.")
	}

	contentType := storage.DetectContentType(upload.ContentType, upload.Filename, bytes.NewReader(upload.Data))
	if !storage.IsAllowedImageType(contentType) {
		return "", domain.Invalid(op, fmt.Sprintf("Unsupported image type %q. Upload a JPEG, PNG or WebP file.", contentType))
	}
	return contentType, nil
}
