package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLegacyURLPair(t *testing.T) {
	raw := RawTask{
		ID:       42,
		Name:     "Old export",
		Prompt:   "A {color} sky",
		URLPost:  "https://example.com/post",
		URLVideo: "https://example.com/video",
	}

	task := Normalize(raw)

	require.Len(t, task.Media, 1)
	assert.Equal(t, "https://example.com/post", task.Media[0].PostURL)
	assert.Equal(t, "https://example.com/video", task.Media[0].VideoURL)
}

func TestNormalizeColorSelectionsFallback(t *testing.T) {
	raw := RawTask{
		ID:              7,
		Name:            "Legacy colors",
		ColorSelections: map[string]string{"color_1": "Crimson"},
	}

	task := Normalize(raw)

	assert.Equal(t, "Crimson", task.Colors["color_1"])
}

func TestNormalizeCanonicalColorsWin(t *testing.T) {
	raw := RawTask{
		ID:              7,
		Colors:          map[string]string{"color_1": "Teal"},
		ColorSelections: map[string]string{"color_1": "Crimson"},
	}

	task := Normalize(raw)

	assert.Equal(t, "Teal", task.Colors["color_1"])
}

func TestNormalizeFillsZeroFields(t *testing.T) {
	task := Normalize(RawTask{})

	assert.NotZero(t, task.ID)
	assert.Equal(t, DefaultTaskName, task.Name)
	require.Len(t, task.Media, 1)
	assert.NotZero(t, task.CreatedAt)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	assert.NotNil(t, task.Colors)
}

func TestNormalizeKeepsExistingMedia(t *testing.T) {
	raw := RawTask{
		ID: 1,
		Media: []MediaSlot{
			{PostURL: "a"},
			{VideoURL: "b"},
		},
		URLPost: "ignored when media present",
	}

	task := Normalize(raw)

	require.Len(t, task.Media, 2)
	assert.Equal(t, "a", task.Media[0].PostURL)
	assert.Equal(t, "b", task.Media[1].VideoURL)
}

func TestEpochMillisUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"integer", `1700000000000`, 1700000000000},
		{"float", `1700000000000.75`, 1700000000000},
		{"null", `null`, 0},
		{"empty string", `""`, 0},
		{"unparseable string", `"not a date"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m EpochMillis
			require.NoError(t, json.Unmarshal([]byte(tt.input), &m))
			assert.Equal(t, tt.want, m.Int64())
		})
	}
}

func TestEpochMillisUnmarshalISO(t *testing.T) {
	var m EpochMillis
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T12:00:00Z"`), &m))

	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, m.Int64())
}

func TestEpochMillisMarshalIsInteger(t *testing.T) {
	data, err := json.Marshal(EpochMillis(1700000000000))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", string(data))
}

func TestTaskCloneIsDeep(t *testing.T) {
	original := NewTask("a", "b")
	original.Colors["color_1"] = "Teal"

	clone := original.Clone()
	clone.Colors["color_1"] = "Crimson"
	clone.Media[0].PostURL = "changed"

	assert.Equal(t, "Teal", original.Colors["color_1"])
	assert.Empty(t, original.Media[0].PostURL)
}

func TestPartitionTables(t *testing.T) {
	assert.Equal(t, "tasks_local", PartitionOffline.Table())
	assert.Equal(t, "tasks_auth", PartitionSession.Table())
	assert.True(t, PartitionOffline.IsValid())
	assert.False(t, Partition("other").IsValid())
}
