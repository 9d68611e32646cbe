// Package lock implements the singleton daemon lock record described in
// §4.1: exclusive creation, stale-owner reclaim, and best-effort release.
package lock

import (
	"encoding/json"
	"os"
	"time"

	"github.com/victorarias/jelly-j/internal/jellyerr"
	"github.com/victorarias/jelly-j/internal/process"
)

// Record is the on-disk lock record, agent.lock.json.
type Record struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"startedAt"`
	Hostname      string    `json:"hostname"`
	ZellijSession string    `json:"zellijSession,omitempty"`
	CWD           string    `json:"cwd,omitempty"`
}

// maxReclaimAttempts bounds the stale-lock reclaim retry loop (§8: "a
// bounded number of retries (≥3)").
const maxReclaimAttempts = 3

// Acquire attempts exclusive creation of the lock file at path. If the file
// already exists and its owner is alive, it returns acquired=false and the
// live owner record. If the owner is dead, the stale file is removed and
// creation retried, up to maxReclaimAttempts.
func Acquire(path string, zellijSession, cwd string) (acquired bool, owner *Record, err error) {
	hostname, _ := os.Hostname()
	rec := Record{
		PID:           os.Getpid(),
		StartedAt:     time.Now().UTC(),
		Hostname:      hostname,
		ZellijSession: zellijSession,
		CWD:           cwd,
	}

	for attempt := 0; attempt < maxReclaimAttempts; attempt++ {
		ok, existing, aerr := tryCreate(path, rec)
		if aerr != nil {
			return false, nil, jellyerr.Wrap(aerr, jellyerr.IO, "acquire lock")
		}
		if ok {
			return true, &rec, nil
		}

		// existing != nil: someone else holds (or held) the file.
		if isOwnerAlive(existing) {
			return false, existing, nil
		}

		// Stale: owner is dead (or unverifiable-as-dead was already folded
		// into isOwnerAlive returning true for "safety over liveness").
		_ = os.Remove(path)
	}

	return false, nil, jellyerr.New(jellyerr.IO, "could not reclaim stale lock after retries")
}

// isOwnerAlive treats an unverifiable probe as alive, per §4.1's "safety
// over liveness" failure policy.
func isOwnerAlive(r *Record) bool {
	if r == nil {
		return false
	}
	return process.IsAlive(r.PID)
}

// tryCreate attempts O_EXCL creation of path. If it already exists, the
// existing record is read and returned instead.
func tryCreate(path string, rec Record) (created bool, existing *Record, err error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := Read(path)
			if rerr != nil {
				// File vanished between the stat implicit in OpenFile and
				// our read; treat as no owner so the caller retries.
				return false, nil, nil
			}
			return false, existing, nil
		}
		return false, nil, err
	}
	defer f.Close()

	if _, werr := f.Write(data); werr != nil {
		return false, nil, werr
	}
	return true, nil, nil
}

// Read loads the lock record at path without side effects.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Release removes the lock file only if the current process still owns
// it. Best-effort: it never returns an error the caller must act on.
func Release(path string) {
	rec, err := Read(path)
	if err != nil {
		return
	}
	if rec.PID != os.Getpid() {
		return
	}
	_ = os.Remove(path)
}
