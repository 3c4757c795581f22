package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/avimaybee/twinclaw/pkg/contracts"
)

// signatureHeader is the header a signed request carries its MAC in:
// "x-signature: sha256=<hex>" computed over the canonical (raw) JSON body.
const signatureHeader = "x-signature"

// HMACProvider validates the control plane's signed-body requests: every
// mutating request carries x-signature computed with HMAC-SHA256 over the
// raw request body, keyed by a shared secret.
type HMACProvider struct {
	secret []byte
}

// NewHMACProvider creates an HMAC auth provider. A nil/empty secret
// disables the provider (the chain falls through to the next one), so the
// gateway still boots with zero configuration in dev.
func NewHMACProvider(secret string) *HMACProvider {
	return &HMACProvider{secret: []byte(secret)}
}

func (p *HMACProvider) Name() string { return "hmac" }

func (p *HMACProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate reads and replaces the request body (so downstream handlers
// can still decode it), computes the expected MAC, and compares it in
// constant time against the caller-supplied signature.
func (p *HMACProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		return nil, nil
	}

	const prefix = "sha256="
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		return nil, fmt.Errorf("malformed %s header", signatureHeader)
	}
	given, err := hex.DecodeString(sig[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("malformed %s hex: %w", signatureHeader, err)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(given, expected) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return &contracts.Identity{
		Subject:  "hmac:control-plane",
		Provider: "hmac",
		Role:     "operator",
	}, nil
}
