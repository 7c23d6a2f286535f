package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/enhance"
	"github.com/pixelift/pixelift/internal/inference"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/service"
)

// =============================================================================
// Test Fakes
// =============================================================================

type stubEnhanceService struct {
	img         *domain.Image
	guestResult *service.GuestEnhanceResult
	err         error

	gotUserID  string
	gotFilter  enhance.Filter
	gotModel   inference.Model
	gotStageID uuid.UUID
}

func (s *stubEnhanceService) Enhance(ctx context.Context, userID string, upload service.Upload, filter enhance.Filter) (*domain.Image, error) {
	s.gotUserID = userID
	s.gotFilter = filter
	return s.img, s.err
}

func (s *stubEnhanceService) EnhanceAI(ctx context.Context, userID string, upload service.Upload, model inference.Model) (*domain.Image, error) {
	s.gotUserID = userID
	s.gotModel = model
	return s.img, s.err
}

func (s *stubEnhanceService) GuestEnhanceAI(ctx context.Context, rawToken string, upload service.Upload, model inference.Model) (*service.GuestEnhanceResult, error) {
	s.gotModel = model
	if s.err != nil {
		return nil, s.err
	}
	return s.guestResult, nil
}

func (s *stubEnhanceService) Resume(ctx context.Context, userID string, stageID uuid.UUID) (*domain.Image, error) {
	s.gotUserID = userID
	s.gotStageID = stageID
	return s.img, s.err
}

func testImageRecord() *domain.Image {
	return &domain.Image{
		ID:          uuid.New(),
		UserID:      "user-1",
		OriginalURL: "https://files.test/o.png",
		EnhancedURL: "https://files.test/e.jpg",
		PromptLabel: "Brightened",
		CreatedAt:   time.Now().UTC(),
	}
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fw.Write([]byte("fake image bytes"))
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func newEnhanceMux(t *testing.T, stub *stubEnhanceService) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	NewEnhanceHandler(stub, testLogger()).RegisterRoutes(mux, middleware.RequireSubject)
	return middleware.Identity(mux)
}

// =============================================================================
// POST /api/enhance Tests
// =============================================================================

func TestEnhance_ReturnsCreatedRecord(t *testing.T) {
	stub := &stubEnhanceService{img: testImageRecord()}
	handler := newEnhanceMux(t, stub)

	body, contentType := multipartBody(t, map[string]string{"filter": "brighten"})
	req := httptest.NewRequest(http.MethodPost, "/api/enhance", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.gotUserID != "user-1" {
		t.Errorf("expected user-1, got %q", stub.gotUserID)
	}
	if stub.gotFilter != enhance.FilterBrighten {
		t.Errorf("expected brighten filter, got %q", stub.gotFilter)
	}

	var resp ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.PromptLabel != "Brightened" {
		t.Errorf("unexpected label %q", resp.PromptLabel)
	}
}

func TestEnhance_RequiresAuthentication(t *testing.T) {
	handler := newEnhanceMux(t, &stubEnhanceService{})

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/enhance", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestEnhance_RejectsMissingFile(t *testing.T) {
	handler := newEnhanceMux(t, &stubEnhanceService{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("filter", "brighten")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/enhance", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

// =============================================================================
// POST /api/enhance/ai Tests
// =============================================================================

func TestEnhanceAI_SignedInGetsRecord(t *testing.T) {
	stub := &stubEnhanceService{img: testImageRecord()}
	handler := newEnhanceMux(t, stub)

	body, contentType := multipartBody(t, map[string]string{"model": "upscale"})
	req := httptest.NewRequest(http.MethodPost, "/api/enhance/ai", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.gotModel != inference.ModelUpscale {
		t.Errorf("expected upscale model, got %q", stub.gotModel)
	}
}

func TestEnhanceAI_GuestGetsBytesAndToken(t *testing.T) {
	stub := &stubEnhanceService{
		guestResult: &service.GuestEnhanceResult{
			Data:        []byte("enhanced bytes"),
			ContentType: "image/png",
			Token:       "signed-token",
		},
	}
	handler := newEnhanceMux(t, stub)

	body, contentType := multipartBody(t, map[string]string{"model": "upscale"})
	req := httptest.NewRequest(http.MethodPost, "/api/enhance/ai", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get(middleware.GuestTokenHeader); got != "signed-token" {
		t.Errorf("expected guest token header, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("expected image/png, got %q", got)
	}
	if rec.Body.String() != "enhanced bytes" {
		t.Errorf("expected raw enhanced bytes, got %q", rec.Body.String())
	}
}

func TestEnhanceAI_GuestQuotaWall(t *testing.T) {
	stageID := uuid.New()
	stub := &stubEnhanceService{
		err: &service.QuotaExhaustedError{
			StageID: stageID,
			Token:   "wall-token",
			Err:     domain.NeedsSignup("op", "Create an account to continue."),
		},
	}
	handler := newEnhanceMux(t, stub)

	body, contentType := multipartBody(t, map[string]string{"model": "upscale"})
	req := httptest.NewRequest(http.MethodPost, "/api/enhance/ai", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rec.Code)
	}
	if got := rec.Header().Get(middleware.GuestTokenHeader); got != "wall-token" {
		t.Errorf("expected wall token header, got %q", got)
	}

	var resp struct {
		Error   map[string]string `json:"error"`
		StageID uuid.UUID         `json:"stage_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.StageID != stageID {
		t.Errorf("expected stage id %s, got %s", stageID, resp.StageID)
	}
	if resp.Error["reason"] != domain.ReasonNeedsSignup {
		t.Errorf("expected needs_signup reason, got %q", resp.Error["reason"])
	}
}

// =============================================================================
// POST /api/enhance/resume Tests
// =============================================================================

func TestResume_ReplaysStage(t *testing.T) {
	stub := &stubEnhanceService{img: testImageRecord()}
	handler := newEnhanceMux(t, stub)

	stageID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/enhance/resume",
		strings.NewReader(`{"stage_id":"`+stageID.String()+`"}`))
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.gotStageID != stageID {
		t.Errorf("expected stage id %s, got %s", stageID, stub.gotStageID)
	}
}

func TestResume_RejectsMissingStageID(t *testing.T) {
	handler := newEnhanceMux(t, &stubEnhanceService{})

	req := httptest.NewRequest(http.MethodPost, "/api/enhance/resume", strings.NewReader(`{}`))
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestResume_ExpiredStageIsGone(t *testing.T) {
	stub := &stubEnhanceService{err: domain.Errorf(domain.EGONE, "op", "That request expired.")}
	handler := newEnhanceMux(t, stub)

	req := httptest.NewRequest(http.MethodPost, "/api/enhance/resume",
		strings.NewReader(`{"stage_id":"`+uuid.NewString()+`"}`))
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Errorf("expected status 410, got %d", rec.Code)
	}
}
