// Package trips hands matched orders to the trip-lifecycle service, which
// owns the trip from MATCHED onward. Dispatch core persists nothing here.
package trips

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	Endpoint string
	HTTP     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, HTTP: &http.Client{Timeout: 3 * time.Second}}
}

func (c *Client) ReportMatch(ctx context.Context, orderID, driverID string, finalFare float64) error {
	payload := map[string]any{
		"order_id":   orderID,
		"driver_id":  driverID,
		"final_fare": finalFare,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/trips", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trip service status %d", resp.StatusCode)
	}
	return nil
}
