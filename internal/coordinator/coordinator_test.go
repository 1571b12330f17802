package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/meetscribe/meetscribe/internal/delivery"
	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/types"
)

type countingUpdater struct {
	applied int
}

func (u *countingUpdater) Apply() { u.applied++ }

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, *countingUpdater, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exportsDir := filepath.Join(dir, "exports")
	deliverer := delivery.NewDeliverer(st, delivery.NewExporter(exportsDir), delivery.NewWebhookClient(), nil)
	updater := &countingUpdater{}
	return New(st, deliverer, updater), st, updater, exportsDir
}

func mirrorMeeting(t *testing.T, st *store.Store, withContent bool) {
	t.Helper()
	state := &types.ActiveMeetingState{
		MeetingSoftware:       types.SoftwareGoogleMeet,
		MeetingTitle:          "Planning",
		MeetingStartTimestamp: "2025-03-10T09:00:00Z",
		Transcript:            []types.TranscriptTurn{},
		ChatMessages:          []types.ChatMessage{},
	}
	if withContent {
		state.Transcript = []types.TranscriptTurn{
			{PersonName: "Alice", Timestamp: "2025-03-10T09:00:05Z", TranscriptText: "let's begin"},
		}
	}
	if err := st.SaveActiveMeeting(state); err != nil {
		t.Fatalf("SaveActiveMeeting() error = %v", err)
	}
}

func TestCoordinator_MeetingEndedArchivesAndExports(t *testing.T) {
	coord, st, _, exportsDir := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")

	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatalf("MeetingEnded() error = %v", err)
	}

	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Fatalf("archive len = %d, want 1", len(meetings))
	}
	rec := meetings[0]
	if rec.MeetingTitle != "Planning" {
		t.Errorf("MeetingTitle = %q", rec.MeetingTitle)
	}
	if rec.MeetingEndTimestamp == "" {
		t.Error("MeetingEndTimestamp not set")
	}
	// No webhook URL configured, so the record keeps its initial status.
	if rec.WebhookPostStatus != types.WebhookStatusNew {
		t.Errorf("WebhookPostStatus = %q, want %q", rec.WebhookPostStatus, types.WebhookStatusNew)
	}

	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		t.Fatalf("exports dir missing: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("exports = %d files, want 1", len(entries))
	}

	binding, err := st.TabBinding()
	if err != nil {
		t.Fatal(err)
	}
	if binding != "" {
		t.Errorf("binding after finalize = %q, want empty", binding)
	}
}

func TestCoordinator_DualTriggersFinalizeOnce(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")

	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatalf("MeetingEnded() error = %v", err)
	}
	// The tab-closed observer fires after the leave button already ran.
	if err := coord.TabClosed(context.Background(), "tab-1"); err != nil {
		t.Fatalf("TabClosed() error = %v", err)
	}

	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Errorf("archive len = %d, want 1 (meeting finalized twice)", len(meetings))
	}
}

func TestCoordinator_LifecycleWithoutTabID(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)

	// Clients that send lifecycle messages without a tab id still get a
	// real binding, so their meeting-end can acquire finalize.
	coord.MeetingStarted("")
	binding, err := st.TabBinding()
	if err != nil {
		t.Fatal(err)
	}
	if binding == "" {
		t.Fatal("empty session id left the binding cleared")
	}

	if err := coord.MeetingEnded(context.Background(), ""); err != nil {
		t.Fatalf("MeetingEnded() error = %v", err)
	}
	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Errorf("archive len = %d, want 1", len(meetings))
	}
}

func TestCoordinator_TabClosedWithoutTabID(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("")

	if err := coord.TabClosed(context.Background(), ""); err != nil {
		t.Fatalf("TabClosed() error = %v", err)
	}
	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Errorf("archive len = %d, want 1", len(meetings))
	}
}

func TestCoordinator_TabClosedIgnoresForeignTab(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")

	if err := coord.TabClosed(context.Background(), "tab-99"); err != nil {
		t.Fatalf("TabClosed() error = %v", err)
	}

	meetings, err := st.Meetings()
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 0 {
		t.Errorf("foreign tab close finalized the meeting")
	}
	binding, _ := st.TabBinding()
	if binding != "tab-1" {
		t.Errorf("binding = %q, want tab-1", binding)
	}
}

func TestCoordinator_EmptyMeetingNotArchived(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, false)
	coord.MeetingStarted("tab-1")

	err := coord.MeetingEnded(context.Background(), "tab-1")
	if !errors.Is(err, types.ErrEmptyMeeting) {
		t.Fatalf("MeetingEnded() error = %v, want ErrEmptyMeeting", err)
	}

	meetings, _ := st.Meetings()
	if len(meetings) != 0 {
		t.Errorf("empty meeting was archived")
	}
	// The binding is still released for the next meeting.
	binding, _ := st.TabBinding()
	if binding != "" {
		t.Errorf("binding = %q, want empty", binding)
	}
}

func TestCoordinator_MeetingEndedWithoutStart(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	coord.MeetingStarted("tab-1")

	err := coord.MeetingEnded(context.Background(), "tab-1")
	if !errors.Is(err, types.ErrNoMeetingFound) {
		t.Fatalf("MeetingEnded() error = %v, want ErrNoMeetingFound", err)
	}
	binding, _ := st.TabBinding()
	if binding != "" {
		t.Errorf("binding = %q, want empty", binding)
	}
}

func TestCoordinator_RecoverNothingToRecover(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)

	_, err := coord.RecoverLastMeeting(context.Background())
	if !errors.Is(err, types.ErrNoMeetingFound) {
		t.Fatalf("RecoverLastMeeting() error = %v, want ErrNoMeetingFound", err)
	}
}

func TestCoordinator_RecoverAlreadyArchived(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")
	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatal(err)
	}

	msg, err := coord.RecoverLastMeeting(context.Background())
	if err != nil {
		t.Fatalf("RecoverLastMeeting() error = %v", err)
	}
	if msg != "No recovery needed" {
		t.Errorf("msg = %q, want %q", msg, "No recovery needed")
	}

	meetings, _ := st.Meetings()
	if len(meetings) != 1 {
		t.Errorf("recovery duplicated the archived meeting")
	}
}

func TestCoordinator_RecoverCrashedMeeting(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	// Crash scenario: mirror present, binding never released, archive empty.
	mirrorMeeting(t, st, true)
	if err := st.BindTab("tab-1"); err != nil {
		t.Fatal(err)
	}

	msg, err := coord.RecoverLastMeeting(context.Background())
	if err != nil {
		t.Fatalf("RecoverLastMeeting() error = %v", err)
	}
	if msg != "Recovered last meeting" {
		t.Errorf("msg = %q", msg)
	}

	meetings, _ := st.Meetings()
	if len(meetings) != 1 {
		t.Fatalf("archive len = %d, want 1", len(meetings))
	}
	binding, _ := st.TabBinding()
	if binding != "" {
		t.Errorf("binding after recovery = %q, want empty", binding)
	}
}

func TestCoordinator_RecoverSkipsLiveFinalize(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	if err := st.BindTab("tab-1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.AcquireFinalize(); err != nil || !ok {
		t.Fatalf("AcquireFinalize() = %v, %v", ok, err)
	}

	_, err := coord.RecoverLastMeeting(context.Background())
	if !errors.Is(err, types.ErrFinalizeInProgress) {
		t.Fatalf("RecoverLastMeeting() error = %v, want ErrFinalizeInProgress", err)
	}
}

func TestCoordinator_RequestUpdateDeferredDuringMeeting(t *testing.T) {
	coord, st, updater, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")

	coord.RequestUpdate()
	if updater.applied != 0 {
		t.Fatal("update applied while a meeting was bound")
	}
	deferred, _ := st.DeferredUpdate()
	if !deferred {
		t.Fatal("deferred update flag not set")
	}

	// Finalize releases the binding and applies the deferred update.
	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatal(err)
	}
	if updater.applied != 1 {
		t.Errorf("updater.applied = %d, want 1", updater.applied)
	}
	deferred, _ = st.DeferredUpdate()
	if deferred {
		t.Error("deferred flag not cleared after apply")
	}
}

func TestCoordinator_RequestUpdateImmediateWhenIdle(t *testing.T) {
	coord, _, updater, _ := newTestCoordinator(t)

	coord.RequestUpdate()
	if updater.applied != 1 {
		t.Errorf("updater.applied = %d, want 1", updater.applied)
	}
}

func TestCoordinator_DownloadAtIndex(t *testing.T) {
	coord, st, _, exportsDir := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")
	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatal(err)
	}

	if err := coord.DownloadAtIndex(0); err != nil {
		t.Fatalf("DownloadAtIndex(0) error = %v", err)
	}
	if err := coord.DownloadAtIndex(-1); !errors.Is(err, types.ErrInvalidIndex) {
		t.Errorf("DownloadAtIndex(-1) error = %v, want ErrInvalidIndex", err)
	}
	if err := coord.DownloadAtIndex(7); !errors.Is(err, types.ErrRecordNotFound) {
		t.Errorf("DownloadAtIndex(7) error = %v, want ErrRecordNotFound", err)
	}

	// Finalize already exported once; the explicit download adds a second,
	// uniquified file.
	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("exports = %d files, want 2", len(entries))
	}
}

func TestCoordinator_RetryWebhookWithoutURL(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	mirrorMeeting(t, st, true)
	coord.MeetingStarted("tab-1")
	if err := coord.MeetingEnded(context.Background(), "tab-1"); err != nil {
		t.Fatal(err)
	}

	err := coord.RetryWebhookAtIndex(context.Background(), 0)
	if !errors.Is(err, types.ErrNoWebhookURL) {
		t.Errorf("RetryWebhookAtIndex() error = %v, want ErrNoWebhookURL", err)
	}
}
