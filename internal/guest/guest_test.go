package guest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTracker_RoundTrip(t *testing.T) {
	tr := NewTracker("test-secret")

	tok := tr.NewToken()
	tok.Used = 2

	decoded, err := tr.Decode(tr.Encode(tok))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.SessionID != tok.SessionID {
		t.Errorf("session id mismatch: %s != %s", decoded.SessionID, tok.SessionID)
	}
	if decoded.Used != 2 {
		t.Errorf("expected used=2, got %d", decoded.Used)
	}
}

func TestTracker_RejectsTampering(t *testing.T) {
	tr := NewTracker("test-secret")

	tok := tr.NewToken()
	tok.Used = 5
	encoded := tr.Encode(tok)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"missing signature", strings.SplitN(encoded, ".", 2)[0]},
		{"swapped signature", strings.SplitN(encoded, ".", 2)[0] + "." + "AAAA"},
		{"wrong key", NewTracker("other-secret").Encode(tok)},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tr.Decode(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTracker_RejectsNegativeCount(t *testing.T) {
	tr := NewTracker("test-secret")

	tok := Token{SessionID: uuid.New(), Used: -1}
	if _, err := tr.Decode(tr.Encode(tok)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for negative count, got %v", err)
	}
}

func TestStageStore_ClaimOnce(t *testing.T) {
	s := NewStageStore(10 * time.Minute)

	id := s.Put(StagedRequest{Image: []byte("img"), ContentType: "image/png", Model: "upscale"})

	req, ok := s.Claim(id)
	if !ok {
		t.Fatal("expected first claim to succeed")
	}
	if string(req.Image) != "img" || req.Model != "upscale" {
		t.Errorf("unexpected staged request: %+v", req)
	}

	if _, ok := s.Claim(id); ok {
		t.Error("expected second claim to fail")
	}
}

func TestStageStore_UnknownID(t *testing.T) {
	s := NewStageStore(10 * time.Minute)

	if _, ok := s.Claim(uuid.New()); ok {
		t.Error("expected claim of unknown id to fail")
	}
}

func TestStageStore_ExpiredEntryNotClaimable(t *testing.T) {
	s := NewStageStore(10 * time.Minute)

	base := time.Now()
	s.now = func() time.Time { return base }
	id := s.Put(StagedRequest{Image: []byte("img")})

	s.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, ok := s.Claim(id); ok {
		t.Error("expected expired entry to be unclaimable")
	}
}

func TestStageStore_PutPrunesExpired(t *testing.T) {
	s := NewStageStore(10 * time.Minute)

	base := time.Now()
	s.now = func() time.Time { return base }
	stale := s.Put(StagedRequest{Image: []byte("old")})

	s.now = func() time.Time { return base.Add(11 * time.Minute) }
	s.Put(StagedRequest{Image: []byte("new")})

	if len(s.entries) != 1 {
		t.Errorf("expected stale entry pruned, got %d entries", len(s.entries))
	}
	if _, ok := s.entries[stale]; ok {
		t.Error("stale entry still present")
	}
}

func TestStageStore_EvictsOldestAtCapacity(t *testing.T) {
	s := NewStageStore(10 * time.Minute)
	s.max = 2

	base := time.Now()
	s.now = func() time.Time { return base }
	first := s.Put(StagedRequest{Image: []byte("one")})

	s.now = func() time.Time { return base.Add(time.Second) }
	second := s.Put(StagedRequest{Image: []byte("two")})

	s.now = func() time.Time { return base.Add(2 * time.Second) }
	third := s.Put(StagedRequest{Image: []byte("three")})

	if len(s.entries) != 2 {
		t.Fatalf("expected 2 entries at capacity, got %d", len(s.entries))
	}
	if _, ok := s.Claim(first); ok {
		t.Error("expected oldest entry evicted")
	}
	if _, ok := s.Claim(second); !ok {
		t.Error("expected second entry kept")
	}
	if _, ok := s.Claim(third); !ok {
		t.Error("expected newest entry kept")
	}
}
