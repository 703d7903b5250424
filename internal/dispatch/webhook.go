package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/dispatch-core/internal/models"
)

// WebhookDispatcher posts offers to a driver-app backend over HTTP, for
// drivers without a live websocket session.
type WebhookDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookDispatcher(endpoint string) *WebhookDispatcher {
	return &WebhookDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (d *WebhookDispatcher) Offer(ctx context.Context, offer models.Offer) error {
	body, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("offer webhook status %d", resp.StatusCode)
	}
	return nil
}
