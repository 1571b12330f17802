package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/meetscribe/meetscribe/internal/coordinator"
	"github.com/meetscribe/meetscribe/internal/delivery"
	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/stream"
)

func newTestStreamHandler(t *testing.T) (*StreamHandler, *store.Store, *coordinator.Coordinator) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	deliverer := delivery.NewDeliverer(st, delivery.NewExporter(filepath.Join(dir, "exports")), delivery.NewWebhookClient(), nil)
	coord := coordinator.New(st, deliverer, nil)
	return NewStreamHandler(stream.NewHub(), coord), st, coord
}

func TestStreamHandler_CaptureDisconnectFinalizes(t *testing.T) {
	h, st, coord := newTestStreamHandler(t)
	seedArchivedMeeting(t, st)
	coord.MeetingStarted("tab-1")

	// The capture agent's socket dropping is the tab-closed trigger.
	h.captureClosed("tab-1")

	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Errorf("archive len = %d, want 1", len(meetings))
	}
	binding, _ := st.TabBinding()
	if binding != "" {
		t.Errorf("binding = %q, want empty", binding)
	}
}

func TestStreamHandler_CaptureDisconnectAfterCleanEnd(t *testing.T) {
	h, st, coord := newTestStreamHandler(t)
	seedArchivedMeeting(t, st)
	coord.MeetingStarted("tab-1")
	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatal(err)
	}

	// The socket drops after the clean end already finalized; nothing new
	// is archived.
	h.captureClosed("tab-1")

	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Errorf("archive len = %d, want 1", len(meetings))
	}
}
