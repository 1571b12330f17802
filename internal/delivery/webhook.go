package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/internal/types"
)

// WebhookBody is the JSON payload posted to the configured webhook. The
// transcript and chat fields are flattened strings for the simple body type
// and raw structured arrays for the advanced one.
type WebhookBody struct {
	WebhookBodyType       string `json:"webhookBodyType"`
	MeetingSoftware       string `json:"meetingSoftware"`
	MeetingTitle          string `json:"meetingTitle"`
	MeetingStartTimestamp string `json:"meetingStartTimestamp"`
	MeetingEndTimestamp   string `json:"meetingEndTimestamp"`
	Transcript            any    `json:"transcript"`
	ChatMessages          any    `json:"chatMessages"`
}

// BuildWebhookBody renders a meeting record into the requested body shape.
func BuildWebhookBody(rec types.MeetingRecord, bodyType string) WebhookBody {
	if bodyType == types.BodyTypeAdvanced {
		return WebhookBody{
			WebhookBodyType:       types.BodyTypeAdvanced,
			MeetingSoftware:       rec.MeetingSoftware,
			MeetingTitle:          rec.MeetingTitle,
			MeetingStartTimestamp: rec.MeetingStartTimestamp,
			MeetingEndTimestamp:   rec.MeetingEndTimestamp,
			Transcript:            rec.Transcript,
			ChatMessages:          rec.ChatMessages,
		}
	}
	return WebhookBody{
		WebhookBodyType:       types.BodyTypeSimple,
		MeetingSoftware:       rec.MeetingSoftware,
		MeetingTitle:          rec.MeetingTitle,
		MeetingStartTimestamp: HumanTime(rec.MeetingStartTimestamp),
		MeetingEndTimestamp:   HumanTime(rec.MeetingEndTimestamp),
		Transcript:            FormatTranscript(rec.Transcript),
		ChatMessages:          FormatChatMessages(rec.ChatMessages),
	}
}

// WebhookClient posts meeting payloads to a user-configured URL.
type WebhookClient struct {
	client *http.Client
}

// NewWebhookClient creates a webhook client with a bounded request timeout.
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends one JSON POST. Any non-2xx response is a delivery failure.
func (c *WebhookClient) Post(ctx context.Context, url string, body WebhookBody) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP status code %d %s",
			types.ErrDeliveryFailed, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
