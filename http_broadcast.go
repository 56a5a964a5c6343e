package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpBroadcaster posts broadcast messages to the server's REST fallback
// endpoint for callers that need fire-and-forget delivery without a live
// socket. No third-party HTTP client appears as a direct dependency
// anywhere in the retrieved corpus, so this is plain net/http.
type httpBroadcaster struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	authFn     func() string
}

func newHTTPBroadcaster(endpoint, apiKey string, authFn func() string) *httpBroadcaster {
	return &httpBroadcaster{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		authFn:     authFn,
	}
}

type broadcastMessage struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	Private bool           `json:"private"`
}

// send posts a single broadcast message wrapped in the endpoint's batched
// {"messages": [...]} envelope, even though exactly one message is sent per
// call.
func (b *httpBroadcaster) send(ctx context.Context, topic, event string, payload map[string]any, private bool) error {
	body, err := json.Marshal(map[string]any{
		"messages": []broadcastMessage{{Topic: topic, Event: event, Payload: payload, Private: private}},
	})
	if err != nil {
		return fmt.Errorf("realtime: encoding broadcast request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/broadcast", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("realtime: building broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("apikey", b.apiKey)
	}
	if b.authFn != nil {
		if tok := b.authFn(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("realtime: broadcast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("realtime: broadcast endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
