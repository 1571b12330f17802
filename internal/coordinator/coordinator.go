package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/meetscribe/meetscribe/internal/delivery"
	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/types"
)

// UpdateApplier applies a pending software update (in practice: restart the
// process). The coordinator defers it while a meeting is bound or finalizing
// so an update never interrupts a finalize and loses in-flight data.
type UpdateApplier interface {
	Apply()
}

// LogUpdateApplier only announces that an update would apply now. Used when
// no supervisor integration is configured.
type LogUpdateApplier struct{}

// Apply implements UpdateApplier.
func (LogUpdateApplier) Apply() {
	log.Println("Applying pending update")
}

// Coordinator owns the meeting finalize path: it is the single entry point
// that turns the mirrored active meeting into an archived record, guarded by
// the tab-binding mutex so the competing triggers (leave-button, tab-closed
// observer, recovery) finalize each meeting at most once.
type Coordinator struct {
	store     *store.Store
	deliverer *delivery.Deliverer
	updater   UpdateApplier
}

// New wires a coordinator. A nil updater falls back to LogUpdateApplier.
func New(st *store.Store, deliverer *delivery.Deliverer, updater UpdateApplier) *Coordinator {
	if updater == nil {
		updater = LogUpdateApplier{}
	}
	return &Coordinator{store: st, deliverer: deliverer, updater: updater}
}

// defaultBinding stands in for clients that send lifecycle messages without
// a tab id. An empty binding means "no meeting", so it can never be bound
// verbatim.
const defaultBinding = "default"

// MeetingStarted binds the capture tab/session that owns the new meeting.
func (c *Coordinator) MeetingStarted(sessionID string) {
	if sessionID == "" {
		sessionID = defaultBinding
	}
	if err := c.store.BindTab(sessionID); err != nil {
		log.Printf("Failed to bind meeting tab: %v", err)
		return
	}
	log.Printf("Meeting tab id saved (%s)", sessionID)
}

// MeetingEnded handles the in-page leave-button trigger: finalize the
// mirrored meeting and run delivery.
func (c *Coordinator) MeetingEnded(ctx context.Context, sessionID string) error {
	return c.finalizeAndDeliver(ctx)
}

// TabClosed handles the external tab-closed observer. It only acts when the
// closed tab is the one bound to the in-progress meeting; if the leave-button
// path already swapped the binding to processing, this is a no-op.
func (c *Coordinator) TabClosed(ctx context.Context, tabID string) error {
	if tabID == "" {
		tabID = defaultBinding
	}
	binding, err := c.store.TabBinding()
	if err != nil {
		return err
	}
	if binding != tabID {
		return nil
	}
	log.Println("Successfully intercepted tab close")
	return c.finalizeAndDeliver(ctx)
}

// finalizeAndDeliver acquires the finalize mutex, archives the meeting and
// drives delivery. Losing the mutex race means another trigger owns this
// meeting's finalize and the call is a no-op.
func (c *Coordinator) finalizeAndDeliver(ctx context.Context) error {
	acquired, err := c.store.AcquireFinalize()
	if err != nil {
		return err
	}
	if !acquired {
		log.Println("Finalize already handled by another trigger")
		return nil
	}
	defer c.releaseAndApplyUpdate()
	return c.processLastMeeting(ctx)
}

// processLastMeeting archives the mirrored meeting and runs export/webhook.
// Caller must hold the finalize mutex.
func (c *Coordinator) processLastMeeting(ctx context.Context) error {
	index, err := c.finalize()
	if err != nil {
		return err
	}
	return c.deliverer.Deliver(ctx, index)
}

// finalize constructs the archived record from the mirrored state. A meeting
// that never started fails with ErrNoMeetingFound; one with no captured
// content fails with ErrEmptyMeeting and is not archived.
func (c *Coordinator) finalize() (int, error) {
	state, err := c.store.LoadActiveMeeting()
	if err != nil {
		return 0, err
	}
	if state.MeetingStartTimestamp == "" {
		return 0, types.ErrNoMeetingFound
	}
	if len(state.Transcript) == 0 && len(state.ChatMessages) == 0 {
		return 0, types.ErrEmptyMeeting
	}

	rec := types.MeetingRecord{
		MeetingSoftware:       state.MeetingSoftware,
		MeetingTitle:          state.MeetingTitle,
		MeetingStartTimestamp: state.MeetingStartTimestamp,
		MeetingEndTimestamp:   time.Now().Format(time.RFC3339),
		Transcript:            state.Transcript,
		ChatMessages:          state.ChatMessages,
		WebhookPostStatus:     types.WebhookStatusNew,
	}

	index, err := c.store.AppendMeeting(rec)
	if err != nil {
		return 0, err
	}
	log.Println("Last meeting picked up")
	return index, nil
}

// releaseAndApplyUpdate clears the binding for the next meeting and applies
// any update that was deferred while this one was processing.
func (c *Coordinator) releaseAndApplyUpdate() {
	if err := c.store.ClearTabBinding(); err != nil {
		log.Printf("Failed to clear meeting tab id: %v", err)
		return
	}
	log.Println("Meeting tab id cleared for next meeting")

	deferred, err := c.store.DeferredUpdate()
	if err != nil || !deferred {
		return
	}
	if err := c.store.SetDeferredUpdate(false); err != nil {
		log.Printf("Failed to clear deferred update flag: %v", err)
		return
	}
	log.Println("Applying deferred update")
	c.updater.Apply()
}

// RequestUpdate applies an available update immediately when no meeting is
// active, and defers it otherwise. The binding is only cleared once meeting
// post-processing is done, so there is no race with finalize.
func (c *Coordinator) RequestUpdate() {
	binding, err := c.store.TabBinding()
	if err != nil {
		log.Printf("Failed to read meeting tab id: %v", err)
		return
	}
	if binding != "" {
		if err := c.store.SetDeferredUpdate(true); err != nil {
			log.Printf("Failed to set deferred update flag: %v", err)
			return
		}
		log.Println("Deferred update flag set")
		return
	}
	log.Println("No active meeting, applying update immediately")
	c.updater.Apply()
}

// DownloadAtIndex exports the archived meeting at index to a file.
func (c *Coordinator) DownloadAtIndex(index int) error {
	if index < 0 {
		return types.ErrInvalidIndex
	}
	_, err := c.deliverer.ExportAt(index)
	return err
}

// RetryWebhookAtIndex re-posts the archived meeting at index. Unlike the
// end-of-meeting path, an explicit retry ignores the auto-post setting but
// still requires a configured URL.
func (c *Coordinator) RetryWebhookAtIndex(ctx context.Context, index int) error {
	if index < 0 {
		return types.ErrInvalidIndex
	}
	return c.deliverer.PostWebhook(ctx, index)
}

// Meetings returns the archived meetings for viewer surfaces.
func (c *Coordinator) Meetings() ([]types.MeetingRecord, error) {
	return c.store.Meetings()
}
