package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/types"
)

// Recorder mirrors the in-progress meeting to durable storage so it can be
// recovered after a crash. Writes are best effort; only the last write before
// finalize matters.
type Recorder interface {
	SaveActiveMeeting(state *types.ActiveMeetingState) error
}

// Publisher receives live stream events for viewer surfaces.
type Publisher interface {
	Publish(ev types.StreamEvent)
}

// Lifecycle receives meeting start/end transitions. The coordinator
// implements this to bind the session and to drive finalize on end.
type Lifecycle interface {
	MeetingStarted(sessionID string)
	MeetingEnded(ctx context.Context, sessionID string) error
}

// Config holds per-platform capture options.
type Config struct {
	Software string
	Policy   SnapshotPolicy

	// Placeholder is the generic label the platform uses for the local user
	// (for example "You"). It is substituted with the real display name at
	// flush time when the name has been discovered.
	Placeholder string

	// TitleDelay is how long after meeting start the title is re-read and
	// announced; platforms fill the title in asynchronously.
	TitleDelay time.Duration
}

const (
	defaultTitleDelay = 7500 * time.Millisecond
	streamThrottle    = 300 * time.Millisecond
	snapshotQueueSize = 256
)

type sessionPhase int

const (
	phaseIdle sessionPhase = iota
	phaseStarted
	phaseEnded
)

type snapshotEvent struct {
	speaker string
	text    string
	at      time.Time
	silence bool
}

// Session owns the capture state for one meeting: the turn buffer, the
// transcript and chat logs, and the lifecycle state machine. Snapshot events
// go through an inbound queue so the producing DOM adapter never blocks.
type Session struct {
	ID  string
	cfg Config

	rec Recorder
	pub Publisher
	lc  Lifecycle

	mu        sync.Mutex
	phase     sessionPhase
	buf       *TurnBuffer
	state     types.ActiveMeetingState
	localName string

	snapshots chan snapshotEvent

	domFault       error
	domFaultNoted  bool
	lastStreamTime time.Time
}

// NewSession creates a capture session for one meeting.
func NewSession(cfg Config, rec Recorder, pub Publisher, lc Lifecycle) *Session {
	if cfg.Placeholder == "" {
		cfg.Placeholder = "You"
	}
	if cfg.TitleDelay == 0 {
		cfg.TitleDelay = defaultTitleDelay
	}
	return &Session{
		ID:        uuid.New().String(),
		cfg:       cfg,
		rec:       rec,
		pub:       pub,
		lc:        lc,
		buf:       NewTurnBuffer(cfg.Policy),
		snapshots: make(chan snapshotEvent, snapshotQueueSize),
		state: types.ActiveMeetingState{
			MeetingSoftware: cfg.Software,
			Transcript:      []types.TranscriptTurn{},
			ChatMessages:    []types.ChatMessage{},
		},
	}
}

// Run consumes the snapshot queue until ctx is cancelled. Every event is
// applied in isolation so a single fault degrades capture instead of
// crashing the loop.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.snapshots:
			s.apply(ev)
		}
	}
}

// Start transitions Idle->Started: the start timestamp is persisted
// immediately, independent of transcript activity, so recovery can detect
// that a meeting happened even with zero captions.
func (s *Session) Start(now time.Time) {
	s.mu.Lock()
	if s.phase != phaseIdle {
		s.mu.Unlock()
		return
	}
	s.phase = phaseStarted
	s.state.MeetingStartTimestamp = now.Format(time.RFC3339)
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("Meeting started (%s)", s.cfg.Software)
	s.lc.MeetingStarted(s.ID)
	s.pub.Publish(types.StreamEvent{Type: types.StreamMeetingStarted})

	// Titles load asynchronously on these platforms; announce after a delay.
	time.AfterFunc(s.cfg.TitleDelay, s.announceInfo)
}

// SetTitle records the (possibly late-loading or user-edited) meeting title.
func (s *Session) SetTitle(title string) {
	if title == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MeetingTitle = title
	s.persistLocked()
}

// SetLocalDisplayName records the local user's real display name, used to
// substitute the placeholder speaker label.
func (s *Session) SetLocalDisplayName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		s.localName = name
	}
}

// OnTextSnapshot enqueues a caption snapshot. The queue never blocks the
// caller; under sustained overload the oldest queued snapshot is evicted.
// The newest must survive: with a rolling caption window it can carry text
// that no later snapshot will show again.
func (s *Session) OnTextSnapshot(speaker, fullText string, now time.Time) {
	ev := snapshotEvent{speaker: speaker, text: fullText, at: now}
	for {
		select {
		case s.snapshots <- ev:
			return
		default:
		}
		select {
		case <-s.snapshots:
			log.Printf("Snapshot queue full, evicting oldest caption update")
		default:
		}
	}
}

// OnSilence enqueues the platform's "nobody is speaking" signal.
func (s *Session) OnSilence(now time.Time) {
	select {
	case s.snapshots <- snapshotEvent{at: now, silence: true}:
	default:
	}
}

// OnChatMessage records a chat message. The detector re-observes the same
// message many times; duplicates by (person, text) are dropped.
func (s *Session) OnChatMessage(person, text string, now time.Time) {
	if person == "" || text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	person = s.substituteLocked(person)
	for _, m := range s.state.ChatMessages {
		if m.PersonName == person && m.ChatMessageText == text {
			return
		}
	}
	s.state.ChatMessages = append(s.state.ChatMessages, types.ChatMessage{
		PersonName:      person,
		Timestamp:       now.Format(time.RFC3339),
		ChatMessageText: text,
	})
	s.persistLocked()
}

// NoteCaptionSourceMissing records that a required caption/chat element never
// appeared. Logged once per meeting; lifecycle tracking continues.
func (s *Session) NoteCaptionSourceMissing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.domFaultNoted {
		return
	}
	s.domFaultNoted = true
	s.domFault = err
	log.Printf("Caption source missing (%s): %v", s.cfg.Software, err)
}

// Fault returns the recorded capture fault, if any.
func (s *Session) Fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domFault
}

// End transitions Started->Ended exactly once. The open turn is flushed
// before finalize so no trailing speech is lost. Further calls are no-ops.
func (s *Session) End(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	if s.phase != phaseStarted {
		s.mu.Unlock()
		return nil
	}
	// Drain anything still queued before flushing the buffer.
	for {
		select {
		case ev := <-s.snapshots:
			s.applyLocked(ev)
			continue
		default:
		}
		break
	}
	s.phase = phaseEnded
	if turn, ok := s.buf.Flush(); ok {
		s.appendTurnLocked(turn)
	}
	s.persistLocked()
	s.mu.Unlock()

	log.Printf("Meeting ended (%s)", s.cfg.Software)
	s.pub.Publish(types.StreamEvent{Type: types.StreamMeetingEnded})
	return s.lc.MeetingEnded(ctx, s.ID)
}

// ActiveState returns a copy of the current mirrored state.
func (s *Session) ActiveState() types.ActiveMeetingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.Transcript = append([]types.TranscriptTurn(nil), s.state.Transcript...)
	state.ChatMessages = append([]types.ChatMessage(nil), s.state.ChatMessages...)
	return state
}

func (s *Session) apply(ev snapshotEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(ev)
}

func (s *Session) applyLocked(ev snapshotEvent) {
	if s.phase != phaseStarted {
		return
	}

	if ev.silence {
		if turn, ok := s.buf.Silence(); ok {
			s.appendTurnLocked(turn)
			s.persistLocked()
		}
		return
	}

	if turn, ok := s.buf.Snapshot(ev.speaker, ev.text, ev.at); ok {
		s.appendTurnLocked(turn)
		s.persistLocked()
	}

	// Live preview of the still-open turn, throttled so a chatty caption
	// node does not overwhelm subscribers.
	speaker, text, startedAt := s.buf.Current()
	if speaker != "" && text != "" && ev.at.Sub(s.lastStreamTime) >= streamThrottle {
		s.lastStreamTime = ev.at
		s.pub.Publish(types.StreamEvent{
			Type: types.StreamTranscriptEntry,
			Data: types.TranscriptTurn{
				PersonName:     s.substituteLocked(speaker),
				Timestamp:      startedAt.Format(time.RFC3339),
				TranscriptText: text,
			},
		})
	}
}

func (s *Session) appendTurnLocked(turn types.TranscriptTurn) {
	turn.PersonName = s.substituteLocked(turn.PersonName)
	s.state.Transcript = append(s.state.Transcript, turn)
	s.pub.Publish(types.StreamEvent{Type: types.StreamTranscriptEntry, Data: turn})
}

func (s *Session) substituteLocked(name string) string {
	if name == s.cfg.Placeholder && s.localName != "" {
		return s.localName
	}
	return name
}

func (s *Session) persistLocked() {
	state := s.state
	if err := s.rec.SaveActiveMeeting(&state); err != nil {
		log.Printf("Failed to mirror active meeting: %v", err)
	}
}

func (s *Session) announceInfo() {
	s.mu.Lock()
	if s.phase != phaseStarted {
		s.mu.Unlock()
		return
	}
	info := types.MeetingInfo{
		MeetingSoftware:       s.state.MeetingSoftware,
		MeetingTitle:          s.state.MeetingTitle,
		MeetingStartTimestamp: s.state.MeetingStartTimestamp,
	}
	s.mu.Unlock()
	s.pub.Publish(types.StreamEvent{Type: types.StreamMeetingInfo, Data: info})
}
