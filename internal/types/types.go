package types

// Webhook post status for an archived meeting
const (
	WebhookStatusNew        = "new"
	WebhookStatusFailed     = "failed"
	WebhookStatusSuccessful = "successful"
)

// Meeting software constants
const (
	SoftwareGoogleMeet = "Google Meet"
	SoftwareZoom       = "Zoom"
	SoftwareTeams      = "Teams"
)

// Operation mode constants
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// Webhook body type constants
const (
	BodyTypeSimple   = "simple"
	BodyTypeAdvanced = "advanced"
)

// TranscriptTurn is one contiguous utterance by one speaker. Timestamp is the
// ISO-8601 instant the turn began, not when it was flushed.
type TranscriptTurn struct {
	PersonName     string `json:"personName"`
	Timestamp      string `json:"timestamp"`
	TranscriptText string `json:"transcriptText"`
}

// ChatMessage is a single chat message. Messages are unique by
// (PersonName, ChatMessageText) within one meeting.
type ChatMessage struct {
	PersonName      string `json:"personName"`
	Timestamp       string `json:"timestamp"`
	ChatMessageText string `json:"chatMessageText"`
}

// MeetingRecord is a finalized meeting. Everything except WebhookPostStatus
// is immutable once archived.
type MeetingRecord struct {
	MeetingSoftware       string           `json:"meetingSoftware"`
	MeetingTitle          string           `json:"meetingTitle"`
	MeetingStartTimestamp string           `json:"meetingStartTimestamp"`
	MeetingEndTimestamp   string           `json:"meetingEndTimestamp"`
	Transcript            []TranscriptTurn `json:"transcript"`
	ChatMessages          []ChatMessage    `json:"chatMessages"`
	WebhookPostStatus     string           `json:"webhookPostStatus"`
}

// ActiveMeetingState is the continuously mirrored state of the in-progress
// meeting, used by recovery after abnormal termination.
type ActiveMeetingState struct {
	MeetingSoftware       string           `json:"meetingSoftware"`
	MeetingTitle          string           `json:"meetingTitle"`
	MeetingStartTimestamp string           `json:"meetingStartTimestamp"`
	Transcript            []TranscriptTurn `json:"transcript"`
	ChatMessages          []ChatMessage    `json:"chatMessages"`
}

// Settings are the runtime-tunable options kept in the sync store.
type Settings struct {
	AutoPostWebhookAfterMeeting bool   `json:"autoPostWebhookAfterMeeting"`
	OperationMode               string `json:"operationMode"`
	WebhookBodyType             string `json:"webhookBodyType"`
	WebhookURL                  string `json:"webhookUrl"`
}

// Message protocol types (capture/viewer -> coordinator)
const (
	MsgNewMeetingStarted         = "new_meeting_started"
	MsgMeetingEnded              = "meeting_ended"
	MsgDownloadTranscriptAtIndex = "download_transcript_at_index"
	MsgRetryWebhookAtIndex       = "retry_webhook_at_index"
	MsgRecoverLastMeeting        = "recover_last_meeting"
	MsgRegisterContentScripts    = "register_content_scripts"
)

// Message is a request in the inter-context protocol.
type Message struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
	TabID string `json:"tabId,omitempty"`
}

// Response is the reply to a Message.
type Response struct {
	Success bool `json:"success"`
	// Message is a string on success and an ErrorObject on failure.
	Message any `json:"message,omitempty"`
}

// ErrorObject carries a stable error code alongside the message.
type ErrorObject struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Streaming event types (live viewing channel, not used for durability)
const (
	StreamMeetingStarted  = "meeting_started"
	StreamMeetingInfo     = "meeting_info"
	StreamTranscriptEntry = "transcript_entry"
	StreamMeetingEnded    = "meeting_ended"
)

// MeetingInfo is the payload of a meeting_info stream event.
type MeetingInfo struct {
	MeetingSoftware       string `json:"meetingSoftware"`
	MeetingTitle          string `json:"meetingTitle"`
	MeetingStartTimestamp string `json:"meetingStartTimestamp"`
}

// StreamEvent is one event on the streaming subscription channel.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Subscription sources on the streaming channel
const (
	SourceCapture = "capture"
	SourceViewer  = "viewer"
)

// SubscribeRequest is the first message a streaming client sends. Capture
// sources identify the tab they are observing so the coordinator can treat
// their disconnect as that tab closing.
type SubscribeRequest struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	TabID  string `json:"tabId,omitempty"`
}
