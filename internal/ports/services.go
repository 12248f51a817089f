package ports

import (
	"time"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
)

// SyncResult reports the outcome of a push or pull.
type SyncResult struct {
	Success bool   `json:"success"`
	Tasks   int    `json:"tasks"`
	Message string `json:"message,omitempty"`
}

// RestoreResult reports the outcome of a pull, distinguishing the
// first-time-user case (no snapshot yet) from a real failure.
type RestoreResult struct {
	Success          bool  `json:"success"`
	NothingToRestore bool  `json:"nothing_to_restore"`
	Tasks            int   `json:"tasks"`
	Timestamp        int64 `json:"timestamp,omitempty"`
}

// SyncStatus is the sync engine's observable state.
type SyncStatus struct {
	Syncing           bool       `json:"syncing"`
	Throttled         bool       `json:"throttled"`
	ThrottleRemaining int        `json:"throttle_seconds_remaining"`
	Offline           bool       `json:"offline"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	LastSuccess       bool       `json:"last_success"`
	Pending           int        `json:"pending_operations"`
}

// PlaceholderInfo describes one parsed {color} token in a prompt.
type PlaceholderInfo struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Token string `json:"token"`
	Index int    `json:"index"`
	Color string `json:"color"`
}

// WorkspaceView is a consistent read of the active-record state.
type WorkspaceView struct {
	Partition  entities.Partition   `json:"partition"`
	Tasks      []*entities.Task     `json:"tasks"`
	Active     *entities.Task       `json:"active"`
	PromptText string               `json:"prompt_text"`
	MediaSlots []entities.MediaSlot `json:"media_slots"`
	Colors     map[string]string    `json:"colors"`
}

// CreateTaskRequest is the explicit-create payload.
type CreateTaskRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// RenameRequest renames the active task.
type RenameRequest struct {
	Name string `json:"name" validate:"required"`
}

// PromptRequest replaces the editable prompt mirror.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// ColorRequest selects a color for a placeholder key.
type ColorRequest struct {
	Color string `json:"color" validate:"required"`
}

// SlotRequest updates one media slot.
type SlotRequest struct {
	PostURL  string `json:"postUrl"`
	VideoURL string `json:"videoUrl"`
}

// ThemeRequest sets the persisted theme preference.
type ThemeRequest struct {
	Theme string `json:"theme" validate:"required,oneof=dark light"`
}

// SignInRequest hands the externally obtained access token to the session
// transition coordinator.
type SignInRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// NetworkRequest toggles the reachability flag.
type NetworkRequest struct {
	Online bool `json:"online"`
}
