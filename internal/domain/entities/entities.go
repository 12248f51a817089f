package entities

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Common errors
var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrNoActiveTask     = errors.New("no active task")
	ErrSlotOutOfRange   = errors.New("media slot index out of range")
	ErrNoSnapshot       = errors.New("no snapshot stored")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrSyncDisabled     = errors.New("sync is not configured")
	ErrOffline          = errors.New("no network connection")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAuthExpired      = errors.New("session expired")
	ErrRemoteServer     = errors.New("remote server error")
	ErrImportFormat     = errors.New("invalid import document format")
)

// ThrottledError rejects a sync attempt made inside the cooldown window.
type ThrottledError struct {
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("sync throttled, wait %d seconds", int(e.Remaining.Seconds()+0.5))
}

// SchemaVersion tags snapshots and export documents. Kept at the value the
// original client wrote so mixed-client accounts round-trip.
const SchemaVersion = "2.0.0"

// Partition identifies one of the two task storage buckets. The offline
// partition survives logout and is never uploaded; the session partition
// mirrors the remote snapshot of the signed-in user and is wiped on logout.
type Partition string

const (
	PartitionOffline Partition = "offline"
	PartitionSession Partition = "session"
)

// Table returns the storage table backing the partition.
func (p Partition) Table() string {
	if p == PartitionSession {
		return "tasks_auth"
	}
	return "tasks_local"
}

func (p Partition) IsValid() bool {
	switch p {
	case PartitionOffline, PartitionSession:
		return true
	default:
		return false
	}
}

// Task defaults.
const (
	DefaultTaskName   = "New Task"
	DefaultTaskPrompt = "Write your prompt here. Use {color} or {color:name} for dynamic colors."
	DefaultColor      = "SlateGray"
)

// MediaSlot pairs a post URL with a video URL. A task always holds at least
// one slot, blank slots included.
type MediaSlot struct {
	PostURL  string `json:"postUrl" db:"post_url"`
	VideoURL string `json:"videoUrl" db:"video_url"`
}

// Task is the unit of work the user edits: a named prompt with color
// placeholders and an ordered list of media slots. Timestamps are epoch
// milliseconds.
type Task struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Prompt    string            `json:"prompt"`
	Colors    map[string]string `json:"colors"`
	Media     []MediaSlot       `json:"media"`
	CreatedAt int64             `json:"createdAt"`
	UpdatedAt int64             `json:"updatedAt"`
}

// NewTaskID generates a collision-resistant id without a central allocator:
// current time in milliseconds plus a small random jitter.
func NewTaskID() int64 {
	return time.Now().UnixMilli() + rand.Int63n(1000)
}

// NewTask builds a task with defaults filled in for every zero field.
func NewTask(name, prompt string) *Task {
	now := time.Now().UnixMilli()
	if name == "" {
		name = DefaultTaskName
	}
	if prompt == "" {
		prompt = DefaultTaskPrompt
	}
	return &Task{
		ID:        NewTaskID(),
		Name:      name,
		Prompt:    prompt,
		Colors:    map[string]string{},
		Media:     []MediaSlot{{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Editable mirrors must never alias the stored
// list entry, so every load and reflect goes through here.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Colors = make(map[string]string, len(t.Colors))
	for k, v := range t.Colors {
		c.Colors[k] = v
	}
	c.Media = make([]MediaSlot, len(t.Media))
	copy(c.Media, t.Media)
	return &c
}

// EnsureMedia enforces the never-empty media invariant in place.
func (t *Task) EnsureMedia() {
	if len(t.Media) == 0 {
		t.Media = []MediaSlot{{}}
	}
}

// Touch updates the modification timestamp.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UnixMilli()
}

// Setting is one row of the settings partition.
type Setting struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// Theme setting keys and values.
const (
	SettingTheme = "theme"
	ThemeDark    = "dark"
	ThemeLight   = "light"
)

// SnapshotStats summarizes a snapshot for display without unpacking it.
type SnapshotStats struct {
	TotalTasks int `json:"totalTasks"`
}

// Snapshot is the unit of remote synchronization: a full copy of the
// session partition plus settings, one per authenticated identity,
// last-write-wins.
type Snapshot struct {
	Version   string        `json:"version"`
	Timestamp int64         `json:"timestamp"`
	Tasks     []*Task       `json:"tasks"`
	Settings  []Setting     `json:"settings"`
	Stats     SnapshotStats `json:"stats"`
}

// SyncMetadata rides along with an uploaded snapshot.
type SyncMetadata struct {
	DeviceID   string `json:"device_id"`
	Hostname   string `json:"hostname"`
	SyncMethod string `json:"sync_method"`
}

// Session is the authenticated identity as seen by this client.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the session's access token has lapsed.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// ExportDocument is the import/export file format.
type ExportDocument struct {
	ID         string    `json:"exportId"`
	Version    string    `json:"version"`
	ExportedAt int64     `json:"exportedAt"`
	Source     string    `json:"source"`
	Tasks      []RawTask `json:"tasks"`
}
