package tui

import "time"

// Screen represents the views of the inspect viewer
type Screen string

const (
	// ScreenAllocations lists allocations with details for the selection
	ScreenAllocations Screen = "allocations"
	// ScreenWarnings lists report warnings
	ScreenWarnings Screen = "warnings"
	// ScreenHelp shows key bindings
	ScreenHelp Screen = "help"
)

// KeyBinding documents one key on the help screen
type KeyBinding struct {
	Keys        string
	Description string
}

// UIState represents the persisted viewer preferences
type UIState struct {
	CurrentScreen Screen    `json:"screen"`
	Verbose       bool      `json:"verbose"`
	Updated       time.Time `json:"updated"`
}

// DefaultKeyBindings returns the bindings shown on the help screen
func DefaultKeyBindings() []KeyBinding {
	return []KeyBinding{
		{Keys: "↑/k ↓/j", Description: "Select allocation"},
		{Keys: "r", Description: "Re-run detection (fresh snapshot)"},
		{Keys: "w / tab", Description: "Toggle warnings view"},
		{Keys: "v", Description: "Toggle evidence details"},
		{Keys: "?", Description: "Show this help"},
		{Keys: "esc", Description: "Back to allocations"},
		{Keys: "q", Description: "Quit"},
	}
}
