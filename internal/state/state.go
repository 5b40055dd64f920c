package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AppliedLimit records the last download limit Brakerr pushed to qBittorrent.
// It is persisted so a restart can detect a leftover throttle from a previous
// run and lift it instead of leaving downloads choked forever.
type AppliedLimit struct {
	LimitKiB  int64     `json:"limit_kib"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

var mu sync.Mutex

const stateFileName = "brakerr_state.json"

func stateFilePath() string {
	if dir := os.Getenv("BRAKERR_STATE_DIR"); dir != "" {
		return filepath.Join(dir, stateFileName)
	}
	// Fallback order: /var/lib/brakerr, the working directory, the temp dir
	defaultDir := "/var/lib/brakerr"
	if err := os.MkdirAll(defaultDir, 0o755); err == nil {
		return filepath.Join(defaultDir, stateFileName)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, stateFileName)
	}
	return filepath.Join(os.TempDir(), stateFileName)
}

// Save persists the applied limit record. Protected by the package mutex.
func Save(r AppliedLimit) error {
	mu.Lock()
	defer mu.Unlock()
	p := stateFilePath()
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	if err := os.WriteFile(p, b, 0o640); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Load reads the persisted applied limit. The boolean is false when no state
// file exists.
func Load() (AppliedLimit, bool, error) {
	mu.Lock()
	defer mu.Unlock()
	p := stateFilePath()
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return AppliedLimit{}, false, nil
		}
		return AppliedLimit{}, false, fmt.Errorf("load state: %w", err)
	}
	var r AppliedLimit
	if err := json.Unmarshal(data, &r); err != nil {
		return AppliedLimit{}, false, fmt.Errorf("unmarshal state: %w", err)
	}
	return r, true, nil
}

// Clear removes the state file. Removing a file that does not exist is not an error.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()
	p := stateFilePath()
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
