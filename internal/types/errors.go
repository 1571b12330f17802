package types

import "errors"

// Sentinel errors for meeting processing. Handlers map these to the stable
// wire error codes via ErrorCode.
var (
	// ErrNoMeetingFound indicates there is nothing to recover or process.
	ErrNoMeetingFound = errors.New("no meetings found, maybe attend one?")

	// ErrEmptyMeeting indicates a meeting with no captured transcript or chat.
	ErrEmptyMeeting = errors.New("empty transcript and empty chat messages")

	// ErrRecordNotFound indicates no archived meeting exists at the index.
	ErrRecordNotFound = errors.New("meeting at specified index not found")

	// ErrInvalidIndex indicates a negative or non-numeric index.
	ErrInvalidIndex = errors.New("invalid index")

	// ErrNoWebhookURL indicates a webhook operation without a configured URL.
	ErrNoWebhookURL = errors.New("no webhook URL configured")

	// ErrDeliveryFailed indicates a webhook POST failure (non-2xx or network).
	ErrDeliveryFailed = errors.New("webhook request failed")

	// ErrExportFailed indicates the transcript file could not be written.
	ErrExportFailed = errors.New("failed to write transcript file")

	// ErrRecoveryTimedOut indicates recovery exceeded its deadline and was
	// abandoned in favour of the live meeting.
	ErrRecoveryTimedOut = errors.New("recovery timed out")

	// ErrDomDependencyMissing indicates a required page element never appeared.
	ErrDomDependencyMissing = errors.New("required page element not found")

	// ErrFinalizeInProgress indicates another trigger already owns finalize
	// for the current meeting. Callers treat it as a no-op.
	ErrFinalizeInProgress = errors.New("meeting finalize already in progress")
)

// ErrorCode returns the stable wire code for err, or "000" when unmapped.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDomDependencyMissing):
		return "001"
	case errors.Is(err, ErrExportFailed):
		return "009"
	case errors.Is(err, ErrRecordNotFound):
		return "010"
	case errors.Is(err, ErrDeliveryFailed):
		return "011"
	case errors.Is(err, ErrNoWebhookURL):
		return "012"
	case errors.Is(err, ErrNoMeetingFound):
		return "013"
	case errors.Is(err, ErrEmptyMeeting):
		return "014"
	case errors.Is(err, ErrInvalidIndex):
		return "015"
	case errors.Is(err, ErrRecoveryTimedOut):
		return "016"
	default:
		return "000"
	}
}

// IsBenignRecovery reports whether a recovery failure is expected and should
// never surface as a user-visible error.
func IsBenignRecovery(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, ErrNoMeetingFound) || errors.Is(err, ErrEmptyMeeting)
}

// AsErrorObject converts err into its wire representation.
func AsErrorObject(err error) ErrorObject {
	return ErrorObject{ErrorCode: ErrorCode(err), ErrorMessage: err.Error()}
}
