package delivery

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meetscribe/meetscribe/internal/types"
)

// humanTimeFormat renders timestamps the way they appear in exported files
// and simple webhook bodies.
const humanTimeFormat = "01/02/2006, 03:04 PM"

// fileTimeFormat is humanTimeFormat with filename-hostile characters swapped.
const fileTimeFormat = "01-02-2006, 03-04 PM"

const fallbackFileName = "Transcript.txt"

// Exporter writes finalized meetings as plain-text transcript files.
type Exporter struct {
	outputDir string
}

// NewExporter creates an exporter writing into outputDir.
func NewExporter(outputDir string) *Exporter {
	return &Exporter{outputDir: outputDir}
}

// Export writes the meeting's transcript and chat to a text file and returns
// its path. An invalid filename falls back to a fixed generic name; a failed
// write is retried once under the generic name before surfacing.
func (e *Exporter) Export(rec types.MeetingRecord) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrExportFailed, err)
	}

	content := BuildExportContent(rec)
	path := filepath.Join(e.outputDir, uniquify(e.outputDir, exportFileName(rec)))

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		log.Printf("Export write failed (%v), retrying with default file name", err)
		path = filepath.Join(e.outputDir, uniquify(e.outputDir, fallbackFileName))
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("%w: %v", types.ErrExportFailed, err)
		}
	}

	log.Printf("Transcript exported to %s", path)
	return path, nil
}

// BuildExportContent renders the meeting as the exported plain-text document.
func BuildExportContent(rec types.MeetingRecord) string {
	var b strings.Builder
	b.WriteString(FormatTranscript(rec.Transcript))
	b.WriteString("\n\n---------------\nCHAT MESSAGES\n---------------\n\n")
	b.WriteString(FormatChatMessages(rec.ChatMessages))
	b.WriteString("\n\n---------------\n")
	b.WriteString("Transcript saved using MeetScribe")
	b.WriteString("\n---------------")
	return b.String()
}

// FormatTranscript flattens transcript turns into a human-readable string.
func FormatTranscript(transcript []types.TranscriptTurn) string {
	var b strings.Builder
	for _, turn := range transcript {
		b.WriteString(fmt.Sprintf("%s (%s)\n", turn.PersonName, HumanTime(turn.Timestamp)))
		b.WriteString(turn.TranscriptText)
		b.WriteString("\n\n")
	}
	return b.String()
}

// FormatChatMessages flattens chat messages into a human-readable string.
func FormatChatMessages(messages []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(fmt.Sprintf("%s (%s)\n", m.PersonName, HumanTime(m.Timestamp)))
		b.WriteString(m.ChatMessageText)
		b.WriteString("\n\n")
	}
	return b.String()
}

// HumanTime renders an ISO-8601 timestamp for human consumption. Unparseable
// input is passed through unchanged.
func HumanTime(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return strings.ToUpper(t.Format(humanTimeFormat))
}

func exportFileName(rec types.MeetingRecord) string {
	prefix := "Transcript"
	if rec.MeetingSoftware != "" {
		prefix = rec.MeetingSoftware + " transcript"
	}

	title := SanitizeTitle(rec.MeetingTitle)

	stamp := rec.MeetingStartTimestamp
	if t, err := time.Parse(time.RFC3339, rec.MeetingStartTimestamp); err == nil {
		stamp = strings.ToUpper(t.Format(fileTimeFormat))
	} else {
		stamp = strings.NewReplacer("/", "-", ":", "-").Replace(stamp)
	}

	return fmt.Sprintf("%s-%s at %s.txt", prefix, title, stamp)
}

// SanitizeTitle strips characters that produce invalid filenames. An empty or
// fully invalid title becomes "Meeting".
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`:?"*<>|~/\`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	clean := strings.Trim(b.String(), ". ")
	if clean == "" || isReservedName(clean) {
		return "Meeting"
	}
	return clean
}

// isReservedName guards Windows device names, which are invalid filenames.
func isReservedName(name string) bool {
	base := strings.ToUpper(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "CON", "PRN", "AUX", "NUL":
		return true
	}
	if len(base) == 4 && (strings.HasPrefix(base, "COM") || strings.HasPrefix(base, "LPT")) {
		return base[3] >= '1' && base[3] <= '9'
	}
	return false
}

// uniquify appends a counter when the target name already exists, so repeated
// exports never overwrite each other.
func uniquify(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
	return name
}
