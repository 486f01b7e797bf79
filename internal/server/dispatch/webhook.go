package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

// WebhookDispatcher hands content off to an external transport service over
// HTTP. Responses classify the failure: 5xx and 408/429 are retryable,
// any other 4xx is terminal, transport errors are retryable.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{url: url, client: &http.Client{}}
}

type webhookPayload struct {
	RecipientKind   models.RecipientKind `json:"recipient_kind"`
	RecipientTarget string               `json:"recipient_target"`
	ContentKind     models.ContentKind   `json:"content_kind"`
	Content         []byte               `json:"content"`
}

func (d *WebhookDispatcher) Send(ctx context.Context, recipient models.Recipient, content Content) error {
	body, err := json.Marshal(&webhookPayload{
		RecipientKind:   recipient.Kind,
		RecipientTarget: recipient.Target,
		ContentKind:     content.Kind,
		Content:         content.Data,
	})
	if err != nil {
		return Terminal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Retryable(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Retryable(fmt.Errorf("transport returned status %d", resp.StatusCode))
	default:
		return Terminal(fmt.Errorf("transport rejected delivery with status %d", resp.StatusCode))
	}
}
