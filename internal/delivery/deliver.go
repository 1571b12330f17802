package delivery

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/types"
)

// Deliverer drives export and webhook delivery for archived meetings. Export
// and webhook are independent: one failing never blocks or rolls back the
// other.
type Deliverer struct {
	store    *store.Store
	exporter *Exporter
	webhook  *WebhookClient
	drive    *DriveUploader // nil when Drive mirroring is not configured
}

// NewDeliverer wires a delivery coordinator. drive may be nil.
func NewDeliverer(st *store.Store, exporter *Exporter, webhook *WebhookClient, drive *DriveUploader) *Deliverer {
	return &Deliverer{store: st, exporter: exporter, webhook: webhook, drive: drive}
}

// Deliver runs export (always) and the webhook POST (only when a URL is
// configured and auto-posting is enabled) concurrently for the archived
// meeting at index. Overall success requires every enabled operation to
// succeed; the returned error preserves which operation failed.
func (d *Deliverer) Deliver(ctx context.Context, index int) error {
	settings, err := d.store.Settings()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var exportErr, webhookErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, exportErr = d.ExportAt(index)
	}()

	if settings.AutoPostWebhookAfterMeeting && settings.WebhookURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			webhookErr = d.PostWebhook(ctx, index)
		}()
	}

	wg.Wait()
	return errors.Join(exportErr, webhookErr)
}

// ExportAt writes the transcript file for the archived meeting at index and
// mirrors it to Drive when configured. The Drive mirror is best effort.
func (d *Deliverer) ExportAt(index int) (string, error) {
	rec, err := d.store.MeetingAt(index)
	if err != nil {
		return "", err
	}

	path, err := d.exporter.Export(rec)
	if err != nil {
		return "", err
	}

	if d.drive != nil {
		d.uploadToDrive(path, rec)
	}
	return path, nil
}

// PostWebhook posts the archived meeting at index to the configured webhook
// and persists the resulting status on the record. It re-reads the archive so
// a retried delivery picks up any title edits made since archival.
func (d *Deliverer) PostWebhook(ctx context.Context, index int) error {
	settings, err := d.store.Settings()
	if err != nil {
		return err
	}
	if settings.WebhookURL == "" {
		return types.ErrNoWebhookURL
	}

	rec, err := d.store.MeetingAt(index)
	if err != nil {
		return err
	}

	body := BuildWebhookBody(rec, settings.WebhookBodyType)
	postErr := d.webhook.Post(ctx, settings.WebhookURL, body)

	status := types.WebhookStatusSuccessful
	if postErr != nil {
		status = types.WebhookStatusFailed
		log.Printf("Webhook post failed for meeting %d: %v", index, postErr)
	}
	if err := d.store.SetWebhookStatus(index, status); err != nil {
		log.Printf("Failed to persist webhook status for meeting %d: %v", index, err)
	}
	return postErr
}

// uploadToDrive mirrors an export with a few backoff attempts. Failures are
// logged only; Drive is never load-bearing.
func (d *Deliverer) uploadToDrive(path string, rec types.MeetingRecord) {
	for attempt := 1; attempt <= 3; attempt++ {
		url, err := d.drive.UploadExport(path, rec)
		if err == nil {
			log.Printf("Transcript mirrored to Drive: %s", url)
			return
		}
		log.Printf("Drive upload attempt %d/3 failed: %v", attempt, err)
		if attempt < 3 {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}
	}
	log.Printf("Drive upload failed after 3 attempts, export kept locally only")
}
