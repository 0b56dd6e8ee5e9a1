package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// WorkspaceVersion is the current schema version of the workspace snapshot.
const WorkspaceVersion = 1

// InterruptedStart is the LastError of a session found in loading on disk.
const InterruptedStart = "start interrupted"

// WorkspaceData is the serializable snapshot format.
type WorkspaceData struct {
	Version   int       `json:"version"`
	Sessions  []Session `json:"sessions"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workspace persists the session list between CLI invocations.
// Open takes an exclusive file lock that is held until Close, so two
// processes never interleave load and save of the same snapshot.
type Workspace struct {
	path string
	lock *flock.Flock
}

// OpenWorkspace acquires the workspace lock, retrying until ctx is done.
func OpenWorkspace(ctx context.Context, path string) (*Workspace, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire workspace lock: %s is held by another process", lock.Path())
	}
	return &Workspace{path: path, lock: lock}, nil
}

// Path returns the snapshot file path.
func (w *Workspace) Path() string {
	return w.path
}

// Load reads the snapshot into a new MemoryStore. A missing file yields an empty store.
func (w *Workspace) Load() (*MemoryStore, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewMemoryStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}

	snapshot, err := DecodeWorkspace(data)
	if err != nil {
		return nil, err
	}
	return NewMemoryStore(snapshot.Sessions...), nil
}

// DecodeWorkspace parses and checks a snapshot.
func DecodeWorkspace(data []byte) (*WorkspaceData, error) {
	var snapshot WorkspaceData
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, ErrParse("invalid workspace file format").WithCause(err)
	}
	if snapshot.Version > WorkspaceVersion {
		return nil, ErrParse(fmt.Sprintf("workspace version %d is newer than supported version %d", snapshot.Version, WorkspaceVersion))
	}
	seen := make(map[string]struct{}, len(snapshot.Sessions))
	for i, s := range snapshot.Sessions {
		if s.ID == "" {
			return nil, ErrParse("workspace contains a session without id")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, ErrParse(fmt.Sprintf("workspace contains duplicate session id %s", s.ID)).WithSession(s.ID)
		}
		seen[s.ID] = struct{}{}
		if !s.Status.Valid() {
			return nil, ErrParse(fmt.Sprintf("session %s has unknown status %q", s.ID, s.Status)).WithSession(s.ID)
		}
		// The workspace lock spans a whole start, so a saved loading status
		// means the process died mid-start.
		if s.Status == StatusLoading {
			snapshot.Sessions[i].Status = StatusError
			snapshot.Sessions[i].LastError = InterruptedStart
		}
	}
	snapshot.Version = WorkspaceVersion
	return &snapshot, nil
}

// Save writes the store snapshot atomically using a temp file and rename.
func (w *Workspace) Save(store Store) error {
	snapshot := WorkspaceData{
		Version:   WorkspaceVersion,
		Sessions:  store.List(),
		UpdatedAt: time.Now().UTC(),
	}
	if snapshot.Sessions == nil {
		snapshot.Sessions = []Session{}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}

	tmpFile := w.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("write temp workspace file: %w", err)
	}
	if err := os.Rename(tmpFile, w.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename workspace file: %w", err)
	}
	return nil
}

// Close releases the workspace lock.
func (w *Workspace) Close() error {
	return w.lock.Unlock()
}
