package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/meetscribe/meetscribe/internal/types"
)

// Storage keys for the local store. Shapes match the persisted-state
// contract consumed by capture, coordinator and viewer surfaces.
const (
	keyMeetingTabID          = "meetingTabId"
	keyMeetingSoftware       = "meetingSoftware"
	keyMeetingTitle          = "meetingTitle"
	keyMeetingStartTimestamp = "meetingStartTimestamp"
	keyTranscript            = "transcript"
	keyChatMessages          = "chatMessages"
	keyMeetings              = "meetings"
	keyDeferredUpdate        = "isDeferredUpdatedAvailable"
)

// TabProcessing is the tab binding sentinel taken while a finalize is in
// flight. It doubles as a mutex: only the trigger that swaps the binding to
// this value runs finalize.
const TabProcessing = "processing"

// ArchiveLimit bounds the meeting archive; inserting beyond it evicts the
// oldest record.
const ArchiveLimit = 10

// Store is the durable key-value store shared by all execution contexts.
// It holds the active meeting mirror, the meeting archive, the tab binding
// and the sync settings, backed by a single SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at dbPath and seeds defaults.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS avatar_names (
		url TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	seed := [][2]string{
		{keyMeetingTabID, ""},
		{keyDeferredUpdate, "false"},
	}
	for _, kv := range seed {
		if _, err := db.Exec(`INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
	}

	defaults := [][2]string{
		{"autoPostWebhookAfterMeeting", "true"},
		{"operationMode", types.ModeAuto},
		{"webhookBodyType", types.BodyTypeSimple},
		{"webhookUrl", ""},
	}
	for _, kv := range defaults {
		if _, err := db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed settings: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Active meeting mirror

// SaveActiveMeeting mirrors the in-progress meeting state. All keys are
// written in one transaction so recovery never observes a torn mirror.
func (s *Store) SaveActiveMeeting(state *types.ActiveMeetingState) error {
	transcript, err := json.Marshal(state.Transcript)
	if err != nil {
		return err
	}
	chat, err := json.Marshal(state.ChatMessages)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	writes := [][2]string{
		{keyMeetingSoftware, state.MeetingSoftware},
		{keyMeetingTitle, state.MeetingTitle},
		{keyMeetingStartTimestamp, state.MeetingStartTimestamp},
		{keyTranscript, string(transcript)},
		{keyChatMessages, string(chat)},
	}
	for _, kv := range writes {
		if _, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadActiveMeeting reads the mirrored in-progress meeting state. Missing
// keys come back zero-valued; an absent start timestamp means no meeting was
// ever attended.
func (s *Store) LoadActiveMeeting() (*types.ActiveMeetingState, error) {
	state := &types.ActiveMeetingState{
		Transcript:   []types.TranscriptTurn{},
		ChatMessages: []types.ChatMessage{},
	}

	var err error
	if state.MeetingSoftware, err = s.get(keyMeetingSoftware); err != nil {
		return nil, err
	}
	if state.MeetingTitle, err = s.get(keyMeetingTitle); err != nil {
		return nil, err
	}
	if state.MeetingStartTimestamp, err = s.get(keyMeetingStartTimestamp); err != nil {
		return nil, err
	}

	raw, err := s.get(keyTranscript)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Transcript); err != nil {
			return nil, fmt.Errorf("corrupt transcript mirror: %w", err)
		}
	}

	raw, err = s.get(keyChatMessages)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.ChatMessages); err != nil {
			return nil, fmt.Errorf("corrupt chat mirror: %w", err)
		}
	}
	return state, nil
}

// ---------------------------------------------------------------------------
// Meeting archive

// Meetings returns the archived meetings, oldest first.
func (s *Store) Meetings() ([]types.MeetingRecord, error) {
	raw, err := s.get(keyMeetings)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return []types.MeetingRecord{}, nil
	}
	var meetings []types.MeetingRecord
	if err := json.Unmarshal([]byte(raw), &meetings); err != nil {
		return nil, fmt.Errorf("corrupt meeting archive: %w", err)
	}
	return meetings, nil
}

// MeetingAt returns the archived meeting at index.
func (s *Store) MeetingAt(index int) (types.MeetingRecord, error) {
	if index < 0 {
		return types.MeetingRecord{}, types.ErrInvalidIndex
	}
	meetings, err := s.Meetings()
	if err != nil {
		return types.MeetingRecord{}, err
	}
	if index >= len(meetings) {
		return types.MeetingRecord{}, types.ErrRecordNotFound
	}
	return meetings[index], nil
}

// AppendMeeting archives a finalized meeting, evicting the oldest entries
// beyond ArchiveLimit, and returns the new record's index. The archive is
// persisted in a single durable write.
func (s *Store) AppendMeeting(rec types.MeetingRecord) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, keyMeetings).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	var meetings []types.MeetingRecord
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meetings); err != nil {
			return 0, fmt.Errorf("corrupt meeting archive: %w", err)
		}
	}

	meetings = append(meetings, rec)
	if len(meetings) > ArchiveLimit {
		meetings = meetings[len(meetings)-ArchiveLimit:]
	}

	data, err := json.Marshal(meetings)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, keyMeetings, string(data)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(meetings) - 1, nil
}

// SetWebhookStatus updates the mutable delivery status of the record at
// index. The rest of the record is left untouched.
func (s *Store) SetWebhookStatus(index int, status string) error {
	if index < 0 {
		return types.ErrInvalidIndex
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, keyMeetings).Scan(&raw)
	if err == sql.ErrNoRows || raw == "" {
		return types.ErrRecordNotFound
	}
	if err != nil {
		return err
	}

	var meetings []types.MeetingRecord
	if err := json.Unmarshal([]byte(raw), &meetings); err != nil {
		return fmt.Errorf("corrupt meeting archive: %w", err)
	}
	if index >= len(meetings) {
		return types.ErrRecordNotFound
	}
	meetings[index].WebhookPostStatus = status

	data, err := json.Marshal(meetings)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE kv SET value = ? WHERE key = ?`, string(data), keyMeetings); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Tab binding mutex

// TabBinding returns the current binding: "", a tab/session id, or
// TabProcessing.
func (s *Store) TabBinding() (string, error) {
	return s.get(keyMeetingTabID)
}

// BindTab records which tab/session owns the in-progress meeting.
func (s *Store) BindTab(id string) error {
	return s.set(keyMeetingTabID, id)
}

// BindTabIfIdle binds only when no finalize is in flight. Used by recovery,
// which must never steal the binding from a live finalize.
func (s *Store) BindTabIfIdle(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE kv SET value = ? WHERE key = ? AND value <> ?`,
		id, keyMeetingTabID, TabProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AcquireFinalize atomically swaps a bound tab id to TabProcessing. It
// returns false when the binding is already processing or already cleared,
// in which case the caller's finalize attempt must be a no-op.
func (s *Store) AcquireFinalize() (bool, error) {
	res, err := s.db.Exec(`UPDATE kv SET value = ? WHERE key = ? AND value <> ? AND value <> ''`,
		TabProcessing, keyMeetingTabID, TabProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClearTabBinding releases the binding after finalize completes, success or
// failure.
func (s *Store) ClearTabBinding() error {
	return s.set(keyMeetingTabID, "")
}

// ---------------------------------------------------------------------------
// Deferred update flag

// SetDeferredUpdate flags (or clears) that an update is waiting for the
// current meeting's processing to finish.
func (s *Store) SetDeferredUpdate(pending bool) error {
	v := "false"
	if pending {
		v = "true"
	}
	return s.set(keyDeferredUpdate, v)
}

// DeferredUpdate reports whether an update was deferred.
func (s *Store) DeferredUpdate() (bool, error) {
	v, err := s.get(keyDeferredUpdate)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// ---------------------------------------------------------------------------
// Sync settings

// Settings reads the runtime-tunable settings, defaults applied at Open.
func (s *Store) Settings() (types.Settings, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return types.Settings{}, err
	}
	defer rows.Close()

	settings := types.Settings{
		AutoPostWebhookAfterMeeting: true,
		OperationMode:               types.ModeAuto,
		WebhookBodyType:             types.BodyTypeSimple,
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return types.Settings{}, err
		}
		switch k {
		case "autoPostWebhookAfterMeeting":
			settings.AutoPostWebhookAfterMeeting = v != "false"
		case "operationMode":
			if v == types.ModeManual {
				settings.OperationMode = types.ModeManual
			}
		case "webhookBodyType":
			if v == types.BodyTypeAdvanced {
				settings.WebhookBodyType = types.BodyTypeAdvanced
			}
		case "webhookUrl":
			settings.WebhookURL = v
		}
	}
	return settings, rows.Err()
}

// SaveSettings persists the runtime-tunable settings.
func (s *Store) SaveSettings(settings types.Settings) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	auto := "true"
	if !settings.AutoPostWebhookAfterMeeting {
		auto = "false"
	}
	writes := [][2]string{
		{"autoPostWebhookAfterMeeting", auto},
		{"operationMode", settings.OperationMode},
		{"webhookBodyType", settings.WebhookBodyType},
		{"webhookUrl", settings.WebhookURL},
	}
	for _, kv := range writes {
		if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Avatar name cache

// AvatarName looks up a previously learned display name for an avatar URL.
func (s *Store) AvatarName(url string) (string, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM avatar_names WHERE url = ?`, url).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// SetAvatarName remembers the display name behind an avatar URL for future
// meetings.
func (s *Store) SetAvatarName(url, name string) error {
	if url == "" || name == "" {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO avatar_names (url, name) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET name = excluded.name`, url, name)
	return err
}

// ---------------------------------------------------------------------------

func (s *Store) get(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
