package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gpucheckpoint/internal/fsutil"
	"gpucheckpoint/internal/logging"
)

const (
	// UIStateFileName is the name of the viewer state file
	UIStateFileName = "inspect_state.json"
)

// UIStateManager persists viewer preferences between inspect sessions.
// Detection results are never stored.
type UIStateManager struct {
	stateDir string
	logger   *logging.Logger
}

// NewUIStateManager creates a new UI state manager. An empty stateDir
// disables persistence.
func NewUIStateManager(stateDir string, logger *logging.Logger) *UIStateManager {
	return &UIStateManager{
		stateDir: stateDir,
		logger:   logger,
	}
}

func (m *UIStateManager) getStatePath() string {
	return filepath.Join(m.stateDir, UIStateFileName)
}

func defaultState() *UIState {
	return &UIState{
		CurrentScreen: ScreenAllocations,
		Updated:       time.Now().UTC(),
	}
}

// Load loads the UI state from disk
func (m *UIStateManager) Load() (*UIState, error) {
	if m.stateDir == "" {
		return defaultState(), nil
	}

	data, err := os.ReadFile(m.getStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return defaultState(), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state UIState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	// The help overlay is never restored.
	if state.CurrentScreen != ScreenWarnings {
		state.CurrentScreen = ScreenAllocations
	}
	return &state, nil
}

// Save saves the UI state to disk
func (m *UIStateManager) Save(state *UIState) error {
	if m.stateDir == "" {
		return nil
	}

	state.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := fsutil.AtomicWriteFile(m.getStatePath(), data, fsutil.DefaultFilePermissions, m.logger); err != nil {
		return err
	}

	m.logger.Debug("tui.state.saved", "UI state saved", map[string]interface{}{
		"screen":  state.CurrentScreen,
		"verbose": state.Verbose,
	})

	return nil
}
