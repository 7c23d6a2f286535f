package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pixelift/pixelift/internal/domain"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/service"
)

type stubProfileService struct {
	view *service.ProfileView
	err  error
}

func (s *stubProfileService) Get(ctx context.Context, userID string) (*service.ProfileView, error) {
	return s.view, s.err
}

func (s *stubProfileService) EnsureBillingCustomer(ctx context.Context, p *domain.Profile) error {
	return nil
}

func newProfileMux(t *testing.T, stub *stubProfileService) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	NewProfileHandler(stub, testLogger()).RegisterRoutes(mux, middleware.RequireSubject)
	return middleware.Identity(mux)
}

func TestProfileGet_ReturnsProfile(t *testing.T) {
	stub := &stubProfileService{
		view: &service.ProfileView{
			Profile: domain.Profile{
				UserID: "user-1", Tier: domain.TierFree, Credits: 3, AICredits: 2,
			},
		},
	}
	handler := newProfileMux(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp ProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Tier != "free" || resp.Credits != 3 || resp.AICredits != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Unlimited {
		t.Error("free profile must not be unlimited")
	}
}

func TestProfileGet_HidesUnlimitedSentinel(t *testing.T) {
	stub := &stubProfileService{
		view: &service.ProfileView{
			Profile: domain.Profile{
				UserID: "user-1", Tier: domain.TierMonthly,
				Credits: domain.UnlimitedCredits, AICredits: 10,
			},
		},
	}
	handler := newProfileMux(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var resp ProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Credits != 0 {
		t.Errorf("sentinel must not leak, got credits=%d", resp.Credits)
	}
	if !resp.Unlimited {
		t.Error("expected unlimited flag set")
	}
}

func TestProfileGet_MarksUnverified(t *testing.T) {
	stub := &stubProfileService{
		view: &service.ProfileView{
			Profile:    domain.Profile{UserID: "user-1", Tier: domain.TierMonthly},
			Unverified: true,
		},
	}
	handler := newProfileMux(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set(middleware.SubjectHeader, "user-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var resp ProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !resp.Unverified {
		t.Error("expected unverified flag in response")
	}
}

func TestProfileGet_RequiresAuthentication(t *testing.T) {
	handler := newProfileMux(t, &stubProfileService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}
