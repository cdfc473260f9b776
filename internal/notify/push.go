package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PushClient forwards notifications to the push delivery service.
type PushClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewPushClient(baseURL string, log *zap.Logger) *PushClient {
	return &PushClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Send returns an error for transport failures and 5xx responses, which are
// worth retrying. 4xx responses are logged and dropped.
func (c *PushClient) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push service unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, string(b))
	case resp.StatusCode >= 300:
		c.log.Warn("push rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", n.Kind),
			zap.String("user_id", n.UserID.String()),
		)
	}
	return nil
}
