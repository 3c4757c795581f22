// Package contracts — authentication interfaces for the control plane's
// pluggable auth layer: a chain of providers tried in order, each either
// authenticating a request, declining it, or rejecting it outright.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller of the control plane HTTP
// surface. Produced by an AuthProvider, consumed by handlers.
type Identity struct {
	// Subject is the unique identifier (signing key id, API key hash).
	Subject string `json:"subject"`

	// Provider identifies which auth provider authenticated this identity.
	// Values: "hmac", "apikey".
	Provider string `json:"provider"`

	// Role is the caller's authorization role (e.g. "operator", "viewer").
	Role string `json:"role"`

	// ExpiresAt is when this identity's grant expires, zero if unbounded.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	// Name returns the provider identifier (e.g. "hmac", "apikey").
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}

// ── AuthProviderChain ───────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns
// an Identity.
type AuthProviderChain interface {
	// Authenticate walks the chain of providers in order.
	// Returns the first successful Identity, or (nil, nil) if no provider matched.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// RegisterProvider adds a provider to the end of the chain.
	// Providers are tried in registration order.
	RegisterProvider(provider AuthProvider)
}
