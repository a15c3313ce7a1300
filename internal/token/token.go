// Package token holds the bearer credential and derives the session
// identity from it without any server round trip.
package token

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken means the credential could not be decoded. Callers
// should treat this as "no identity", not as a fatal condition.
var ErrMalformedToken = errors.New("token is malformed")

// Claims is what we expect inside the middle segment of the token.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Keeper persists the raw token between runs. The storage itself is
// opaque to this package.
type Keeper interface {
	Load() (string, error)
	Save(token string) error
	Drop() error
}

// Holder keeps the current bearer token. The zero value is usable and
// holds no credential. Safe for concurrent use.
type Holder struct {
	mu    sync.RWMutex
	value string
}

// NewHolder returns a Holder preloaded with the given token.
func NewHolder(value string) *Holder {
	return &Holder{value: value}
}

// Set replaces the current token.
func (h *Holder) Set(token string) {
	h.mu.Lock()
	h.value = token
	h.mu.Unlock()
}

// Get returns the raw token, or the empty string when none is held.
func (h *Holder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Clear drops the token, as on logout or expiry detection.
func (h *Holder) Clear() {
	h.Set("")
}

// Identity returns the name claimed by the current token. An empty
// token yields an empty identity with no error. A token that cannot be
// decoded yields an empty identity and ErrMalformedToken.
//
// The signature is never verified here. The client has no secret; the
// server is the only party that validates the token.
func (h *Holder) Identity() (string, error) {
	claims, err := h.decode()
	if err != nil || claims == nil {
		return "", err
	}
	return claims.Name, nil
}

// ExpiresAt returns the expiry timestamp baked into the token. The
// holder never enforces it; that is the caller's decision. A missing
// token or exp claim yields the zero time.
func (h *Holder) ExpiresAt() (time.Time, error) {
	claims, err := h.decode()
	if err != nil || claims == nil || claims.ExpiresAt == nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

func (h *Holder) decode() (*Claims, error) {
	raw := h.Get()
	if raw == "" {
		return nil, nil
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return &claims, nil
}
