package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/types"
)

func newTestDeliverer(t *testing.T) (*Deliverer, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	d := NewDeliverer(st, NewExporter(filepath.Join(dir, "exports")), NewWebhookClient(), nil)
	return d, st
}

func configureWebhook(t *testing.T, st *store.Store, url, bodyType string) {
	t.Helper()
	settings, err := st.Settings()
	if err != nil {
		t.Fatal(err)
	}
	settings.WebhookURL = url
	settings.WebhookBodyType = bodyType
	if err := st.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}
}

func TestPostWebhook_SuccessPersistsStatus(t *testing.T) {
	d, st := newTestDeliverer(t)
	index, err := st.AppendMeeting(sampleMeeting())
	if err != nil {
		t.Fatal(err)
	}

	var got WebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	configureWebhook(t, st, srv.URL, types.BodyTypeSimple)

	if err := d.PostWebhook(context.Background(), index); err != nil {
		t.Fatalf("PostWebhook() error = %v", err)
	}

	if got.WebhookBodyType != types.BodyTypeSimple {
		t.Errorf("WebhookBodyType = %q", got.WebhookBodyType)
	}
	if got.MeetingStartTimestamp != "03/10/2025, 09:00 AM" {
		t.Errorf("MeetingStartTimestamp = %q, want human format", got.MeetingStartTimestamp)
	}
	if _, ok := got.Transcript.(string); !ok {
		t.Errorf("simple body transcript is %T, want flattened string", got.Transcript)
	}

	rec, err := st.MeetingAt(index)
	if err != nil {
		t.Fatal(err)
	}
	if rec.WebhookPostStatus != types.WebhookStatusSuccessful {
		t.Errorf("WebhookPostStatus = %q, want %q", rec.WebhookPostStatus, types.WebhookStatusSuccessful)
	}
}

func TestPostWebhook_AdvancedBodyKeepsStructure(t *testing.T) {
	d, st := newTestDeliverer(t)
	index, err := st.AppendMeeting(sampleMeeting())
	if err != nil {
		t.Fatal(err)
	}

	var got WebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()
	configureWebhook(t, st, srv.URL, types.BodyTypeAdvanced)

	if err := d.PostWebhook(context.Background(), index); err != nil {
		t.Fatalf("PostWebhook() error = %v", err)
	}

	if got.MeetingStartTimestamp != "2025-03-10T09:00:00Z" {
		t.Errorf("MeetingStartTimestamp = %q, want ISO", got.MeetingStartTimestamp)
	}
	turns, ok := got.Transcript.([]any)
	if !ok {
		t.Fatalf("advanced body transcript is %T, want array", got.Transcript)
	}
	if len(turns) != 2 {
		t.Errorf("transcript len = %d, want 2", len(turns))
	}
}

func TestPostWebhook_FailureThenRetry(t *testing.T) {
	d, st := newTestDeliverer(t)
	index, err := st.AppendMeeting(sampleMeeting())
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	configureWebhook(t, st, srv.URL, types.BodyTypeSimple)

	err = d.PostWebhook(context.Background(), index)
	if !errors.Is(err, types.ErrDeliveryFailed) {
		t.Fatalf("first PostWebhook() error = %v, want ErrDeliveryFailed", err)
	}
	rec, _ := st.MeetingAt(index)
	if rec.WebhookPostStatus != types.WebhookStatusFailed {
		t.Errorf("status after failure = %q, want %q", rec.WebhookPostStatus, types.WebhookStatusFailed)
	}

	if err := d.PostWebhook(context.Background(), index); err != nil {
		t.Fatalf("retry PostWebhook() error = %v", err)
	}
	rec, _ = st.MeetingAt(index)
	if rec.WebhookPostStatus != types.WebhookStatusSuccessful {
		t.Errorf("status after retry = %q, want %q", rec.WebhookPostStatus, types.WebhookStatusSuccessful)
	}
}

func TestPostWebhook_NoURL(t *testing.T) {
	d, st := newTestDeliverer(t)
	index, err := st.AppendMeeting(sampleMeeting())
	if err != nil {
		t.Fatal(err)
	}

	if err := d.PostWebhook(context.Background(), index); !errors.Is(err, types.ErrNoWebhookURL) {
		t.Errorf("PostWebhook() error = %v, want ErrNoWebhookURL", err)
	}
	// Status is untouched when nothing was posted.
	rec, _ := st.MeetingAt(index)
	if rec.WebhookPostStatus != types.WebhookStatusNew {
		t.Errorf("WebhookPostStatus = %q, want %q", rec.WebhookPostStatus, types.WebhookStatusNew)
	}
}

func TestDeliver_ExportOnlyWhenAutoPostDisabled(t *testing.T) {
	d, st := newTestDeliverer(t)
	index, err := st.AppendMeeting(sampleMeeting())
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	settings, err := st.Settings()
	if err != nil {
		t.Fatal(err)
	}
	settings.WebhookURL = srv.URL
	settings.AutoPostWebhookAfterMeeting = false
	if err := st.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}

	if err := d.Deliver(context.Background(), index); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("webhook called %d times with auto-post disabled", calls.Load())
	}
}

func TestDeliver_RunsBothWhenConfigured(t *testing.T) {
	d, st := newTestDeliverer(t)
	index, err := st.AppendMeeting(sampleMeeting())
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	configureWebhook(t, st, srv.URL, types.BodyTypeSimple)

	if err := d.Deliver(context.Background(), index); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", calls.Load())
	}
	rec, _ := st.MeetingAt(index)
	if rec.WebhookPostStatus != types.WebhookStatusSuccessful {
		t.Errorf("WebhookPostStatus = %q", rec.WebhookPostStatus)
	}
}
