// Package guest tracks anonymous usage of the AI enhancement path.
//
// A guest carries an HMAC-signed token (session id + use count) issued by
// the server and stored client-side. The signature stops casual tampering,
// but a guest can always discard the token and start over, so the counter is a
// UX gate only. Server-side credit enforcement for authenticated users is
// the binding constraint.
package guest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned for malformed or tampered guest tokens.
var ErrInvalidToken = errors.New("invalid guest token")

// Token is the decoded state of a guest session.
type Token struct {
	SessionID uuid.UUID
	Used      int
}

// Tracker signs and verifies guest tokens.
type Tracker struct {
	secret []byte
}

// NewTracker creates a tracker with the given HMAC key.
func NewTracker(secret string) *Tracker {
	return &Tracker{secret: []byte(secret)}
}

// NewToken starts a fresh guest session.
func (t *Tracker) NewToken() Token {
	return Token{SessionID: uuid.New()}
}

// Encode serializes and signs a token. Format: base64(payload).base64(mac)
// where payload is "sessionID:used".
func (t *Tracker) Encode(tok Token) string {
	payload := fmt.Sprintf("%s:%d", tok.SessionID, tok.Used)
	mac := t.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(mac)
}

// Decode verifies the signature and deserializes a token.
func (t *Tracker) Decode(s string) (Token, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Token{}, ErrInvalidToken
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Token{}, ErrInvalidToken
	}
	mac, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Token{}, ErrInvalidToken
	}
	if !hmac.Equal(mac, t.sign(string(payloadBytes))) {
		return Token{}, ErrInvalidToken
	}

	fields := strings.SplitN(string(payloadBytes), ":", 2)
	if len(fields) != 2 {
		return Token{}, ErrInvalidToken
	}
	sessionID, err := uuid.Parse(fields[0])
	if err != nil {
		return Token{}, ErrInvalidToken
	}
	used, err := strconv.Atoi(fields[1])
	if err != nil || used < 0 {
		return Token{}, ErrInvalidToken
	}

	return Token{SessionID: sessionID, Used: used}, nil
}

func (t *Tracker) sign(payload string) []byte {
	h := hmac.New(sha256.New, t.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
