package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// ChannelDriver delivers one record's payload to its destination platform.
// Ships one built-in: WebhookDriver, posting to the record's ChatID as a
// URL. Additional platforms register under their own Kind via Registry.
type ChannelDriver interface {
	Kind() string
	Send(ctx context.Context, rec *models.DeliveryRecord) error
}

// Registry looks up a ChannelDriver by the platform name on a
// DeliveryRecord.
type Registry struct {
	drivers map[string]ChannelDriver
}

// NewRegistry builds a registry seeded with the built-in webhook driver.
func NewRegistry(webhookSecret string) *Registry {
	r := &Registry{drivers: make(map[string]ChannelDriver)}
	r.Register(&WebhookDriver{client: &http.Client{Timeout: 15 * time.Second}, secret: webhookSecret})
	return r
}

// Register adds or replaces a driver for its Kind.
func (r *Registry) Register(d ChannelDriver) {
	r.drivers[d.Kind()] = d
}

// Get returns the driver registered for a platform, or nil.
func (r *Registry) Get(platform string) ChannelDriver {
	return r.drivers[platform]
}

// WebhookDriver posts the record's payload as the HTTP body to its ChatID
// (treated as the destination URL), signing it HMAC-SHA256 the same way
// the control plane's own inbound callback endpoint expects to verify.
type WebhookDriver struct {
	client *http.Client
	secret string
}

func (d *WebhookDriver) Kind() string { return "webhook" }

func (d *WebhookDriver) Send(ctx context.Context, rec *models.DeliveryRecord) error {
	body := []byte(rec.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.ChatID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", rec.ID)

	if d.secret != "" {
		mac := hmac.New(sha256.New, []byte(d.secret))
		mac.Write(body)
		req.Header.Set("X-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, rec.ChatID)
	}
	return nil
}
