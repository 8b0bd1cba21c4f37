// Package notify delivers user-facing trade notifications. Delivery is
// fire-and-forget: failures are logged, never raised into the tick path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Notifier sends a short text notification to one user.
type Notifier interface {
	Send(ctx context.Context, userID, text string)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, userID, text string) {
	log.Printf("notify %s: %s", userID, text)
}

// WebhookNotifier POSTs notifications to an external endpoint
// (dashboard push service, chat relay).
type WebhookNotifier struct {
	URL        string
	HTTPClient *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, userID, text string) {
	payload, err := json.Marshal(map[string]string{"user_id": userID, "text": text})
	if err != nil {
		log.Printf("notify %s: encode payload: %v", userID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("notify %s: build request: %v", userID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.HTTPClient.Do(req)
	if err != nil {
		log.Printf("notify %s: webhook error: %v", userID, err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		log.Printf("notify %s: webhook status %d", userID, res.StatusCode)
	}
}
