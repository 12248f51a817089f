package entities

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EpochMillis is a timestamp that unmarshals from either the canonical
// epoch-millisecond integer or the legacy ISO-8601 string. Historical
// exports and old remote snapshots carry both encodings.
type EpochMillis int64

func (m EpochMillis) Int64() int64 { return int64(m) }

// MarshalJSON always writes the canonical integer form.
func (m EpochMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(m), 10)), nil
}

func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*m = 0
		return nil
	}
	if s != "" && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			// Dates without an offset show up in very old exports.
			t, err = time.Parse("2006-01-02T15:04:05", str)
			if err != nil {
				*m = 0
				return nil
			}
		}
		*m = EpochMillis(t.UnixMilli())
		return nil
	}
	// Fractional milliseconds appear when the value crossed a float encoder.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*m = EpochMillis(int64(f))
	return nil
}

// RawTask is a task as it may appear in any persisted or imported shape:
// the canonical current schema, the single URL-pair legacy schema, or the
// colorSelections legacy schema. Normalize maps all of them to Task.
type RawTask struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Prompt          string            `json:"prompt"`
	Colors          map[string]string `json:"colors"`
	ColorSelections map[string]string `json:"colorSelections"`
	Media           []MediaSlot       `json:"media"`
	URLPost         string            `json:"url_post"`
	URLVideo        string            `json:"url_video"`
	CreatedAt       EpochMillis       `json:"createdAt"`
	UpdatedAt       EpochMillis       `json:"updatedAt"`
}

// RawSnapshot is a snapshot envelope before its records are normalized.
type RawSnapshot struct {
	Version   string      `json:"version"`
	Timestamp EpochMillis `json:"timestamp"`
	Tasks     []RawTask   `json:"tasks"`
	Settings  []Setting   `json:"settings"`
}

// RawFromTask converts a canonical task back to the wire shape, used when
// re-exporting.
func RawFromTask(t *Task) RawTask {
	return RawTask{
		ID:        t.ID,
		Name:      t.Name,
		Prompt:    t.Prompt,
		Colors:    t.Colors,
		Media:     t.Media,
		CreatedAt: EpochMillis(t.CreatedAt),
		UpdatedAt: EpochMillis(t.UpdatedAt),
	}
}

// Normalize maps any historical record shape to the canonical one. Every
// read path (list, load, import, restore) runs through it so downstream
// code can assume the current schema: media never empty, timestamps as
// epoch milliseconds, the color map under its current name.
func Normalize(raw RawTask) *Task {
	t := &Task{
		ID:        raw.ID,
		Name:      raw.Name,
		Prompt:    raw.Prompt,
		Colors:    raw.Colors,
		Media:     raw.Media,
		CreatedAt: raw.CreatedAt.Int64(),
		UpdatedAt: raw.UpdatedAt.Int64(),
	}

	if t.Colors == nil {
		t.Colors = raw.ColorSelections
	}
	if t.Colors == nil {
		t.Colors = map[string]string{}
	}

	// The single URL-pair schema predates the media array.
	if len(t.Media) == 0 && (raw.URLPost != "" || raw.URLVideo != "") {
		t.Media = []MediaSlot{{PostURL: raw.URLPost, VideoURL: raw.URLVideo}}
	}
	t.EnsureMedia()

	if t.ID == 0 {
		t.ID = NewTaskID()
	}
	if t.Name == "" {
		t.Name = DefaultTaskName
	}
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = t.CreatedAt
	}

	return t
}
