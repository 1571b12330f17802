package capture

import (
	"time"

	"github.com/meetscribe/meetscribe/internal/types"
)

// SnapshotPolicy selects how a caption snapshot for the current speaker is
// merged into the buffered turn text. The DOM update semantics genuinely
// differ between host platforms, so both strategies are kept.
type SnapshotPolicy int

const (
	// PolicyCumulative treats every snapshot as the full rendered text for
	// the current speaker; the latest snapshot replaces the buffer. Used by
	// platforms that keep re-rendering the whole caption block (Google Meet,
	// Teams).
	PolicyCumulative SnapshotPolicy = iota

	// PolicyAppendRebase treats snapshots as append-only text that may have
	// been truncated at the front; only the genuinely new suffix is appended.
	// Used by platforms with a rolling caption window (Zoom).
	PolicyAppendRebase
)

// truncationThreshold detects the platform silently resetting very long
// captions for one speaker: the new snapshot is dramatically shorter than the
// buffered text.
const truncationThreshold = -250

// TurnBuffer accumulates fragmentary caption snapshots into discrete speaker
// turns. It holds at most one open turn; a snapshot may complete the open
// turn, in which case the completed turn is returned to the caller for
// appending to the transcript log.
type TurnBuffer struct {
	policy    SnapshotPolicy
	speaker   string
	text      string
	startedAt time.Time
}

// NewTurnBuffer creates an empty buffer using the given merge policy.
func NewTurnBuffer(policy SnapshotPolicy) *TurnBuffer {
	return &TurnBuffer{policy: policy}
}

// Snapshot consumes one caption snapshot: the current speaker and the fully
// rendered caption text at instant now. It returns a completed turn when the
// snapshot closed one (speaker change or large truncation). Empty speaker or
// empty text snapshots are ignored entirely.
func (b *TurnBuffer) Snapshot(speaker, fullText string, now time.Time) (types.TranscriptTurn, bool) {
	if speaker == "" || fullText == "" {
		return types.TranscriptTurn{}, false
	}

	// No open turn: open one anchored at now.
	if b.speaker == "" {
		b.open(speaker, fullText, now)
		return types.TranscriptTurn{}, false
	}

	// Speaker change: close the previous speaker's turn first.
	if b.speaker != speaker {
		turn, ok := b.take()
		b.open(speaker, fullText, now)
		return turn, ok
	}

	// Continuation by the same speaker.
	switch b.policy {
	case PolicyCumulative:
		if len(fullText)-len(b.text) < truncationThreshold {
			// The platform dropped the very long caption and started over.
			// Close the long turn and re-anchor the timestamp.
			turn, ok := b.take()
			b.open(speaker, fullText, now)
			return turn, ok
		}
		b.text = fullText
	case PolicyAppendRebase:
		b.text += newPart(b.text, fullText)
	}
	return types.TranscriptTurn{}, false
}

// Silence handles the platform's "nobody is speaking" signal: the open turn,
// if any, is completed and the buffer cleared.
func (b *TurnBuffer) Silence() (types.TranscriptTurn, bool) {
	return b.take()
}

// Flush unconditionally completes the open turn, if any. Called at meeting
// end so no trailing speech is lost.
func (b *TurnBuffer) Flush() (types.TranscriptTurn, bool) {
	return b.take()
}

// Current returns the open turn's speaker and text, for live preview.
func (b *TurnBuffer) Current() (speaker, text string, startedAt time.Time) {
	return b.speaker, b.text, b.startedAt
}

func (b *TurnBuffer) open(speaker, text string, now time.Time) {
	b.speaker = speaker
	b.text = text
	b.startedAt = now
}

// take closes the open turn. Blank turns are discarded, never emitted.
func (b *TurnBuffer) take() (types.TranscriptTurn, bool) {
	if b.speaker == "" || b.text == "" {
		b.speaker, b.text = "", ""
		return types.TranscriptTurn{}, false
	}
	turn := types.TranscriptTurn{
		PersonName:     b.speaker,
		Timestamp:      b.startedAt.Format(time.RFC3339),
		TranscriptText: b.text,
	}
	b.speaker, b.text = "", ""
	return turn, true
}

// newPart returns the part of current that was not already buffered.
func newPart(buffered, current string) string {
	// Characters were added to the end.
	if len(current) >= len(buffered) && current[:len(buffered)] == buffered {
		return current[len(buffered):]
	}

	// The front of the buffered text was truncated and new text appended:
	// find the longest suffix of buffered that prefixes current.
	tail := buffered
	for len(tail) > 0 {
		if len(current) >= len(tail) && current[:len(tail)] == tail {
			return current[len(tail):]
		}
		tail = tail[1:]
	}

	// No overlap at all, the whole snapshot is new.
	return current
}
