package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/meetscribe/meetscribe/internal/types"
)

// recoveryTimeout bounds startup recovery so a wedged database can never
// block the server from coming up.
const recoveryTimeout = 2 * time.Second

// recoveryBinding is the synthetic tab id recovery uses to take the finalize
// mutex, so a capture session starting concurrently cannot double-finalize.
const recoveryBinding = "recovery"

// RecoverLastMeeting finalizes a meeting whose process died before the
// end-of-meeting path ran. It compares the mirrored start timestamp against
// the newest archived record: a match means the last meeting was already
// archived and nothing is lost. The returned message describes the outcome.
func (c *Coordinator) RecoverLastMeeting(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
	defer cancel()

	type outcome struct {
		msg string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		msg, err := c.recoverLastMeeting(ctx)
		done <- outcome{msg: msg, err: err}
	}()

	select {
	case o := <-done:
		return o.msg, o.err
	case <-ctx.Done():
		return "", types.ErrRecoveryTimedOut
	}
}

func (c *Coordinator) recoverLastMeeting(ctx context.Context) (string, error) {
	state, err := c.store.LoadActiveMeeting()
	if err != nil {
		return "", err
	}
	if state.MeetingStartTimestamp == "" {
		return "", types.ErrNoMeetingFound
	}

	meetings, err := c.store.Meetings()
	if err != nil {
		return "", err
	}
	if len(meetings) > 0 && meetings[len(meetings)-1].MeetingStartTimestamp == state.MeetingStartTimestamp {
		return "No recovery needed", nil
	}

	// The crashed meeting never released its binding, or never took one if
	// the crash landed before the start was bound. Either way claim it as
	// our own trigger before finalizing.
	bound, err := c.store.BindTabIfIdle(recoveryBinding)
	if err != nil {
		return "", err
	}
	if !bound {
		log.Println("Recovery skipped, finalize already in progress")
		return "", types.ErrFinalizeInProgress
	}

	acquired, err := c.store.AcquireFinalize()
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", types.ErrFinalizeInProgress
	}
	defer c.releaseAndApplyUpdate()

	if err := c.processLastMeeting(ctx); err != nil {
		return "", err
	}
	return "Recovered last meeting", nil
}
