package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/victorarias/jelly-j/internal/jellyerr"
)

// persistedState is the on-disk state.json shape (§6): the Conversation
// State fields the spec commits to disk across restarts. Model alias and
// in-flight queue depth are runtime-only and never written here.
type persistedState struct {
	SessionID     string `json:"sessionId,omitempty"`
	ZellijSession string `json:"zellijSession,omitempty"`
}

func loadState(path string) persistedState {
	data, err := os.ReadFile(path)
	if err != nil {
		return persistedState{}
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}
	}
	return st
}

// saveState writes state.json atomically via write-then-rename (§3:
// "persisted to disk by atomic rename").
func saveState(path string, st persistedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "marshal conversation state")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json.tmp")
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "create temp state file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return jellyerr.Wrap(err, jellyerr.IO, "write temp state file")
	}
	if err := tmp.Close(); err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "close temp state file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "rename temp state file")
	}
	return nil
}
