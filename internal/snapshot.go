package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SnapshotVersion is the on-disk schema version of snapshot.json
const SnapshotVersion = 1

// SnapshotStore holds the active session's captured originals in memory and
// mirrors them to a single file after every mutation (write-through).
type SnapshotStore struct {
	mu        sync.Mutex
	path      string
	current   *SessionSnapshot
	ids       map[string]bool
	writeFile func(name string, data []byte, perm os.FileMode) error
	newID     func() string
}

// SnapshotOption configures a SnapshotStore
type SnapshotOption func(*SnapshotStore)

// WithSnapshotWriter replaces the durable writer, mostly to inject failures
func WithSnapshotWriter(fn func(name string, data []byte, perm os.FileMode) error) SnapshotOption {
	return func(s *SnapshotStore) { s.writeFile = fn }
}

// WithSessionIDGenerator replaces the session id generator
func WithSessionIDGenerator(fn func() string) SnapshotOption {
	return func(s *SnapshotStore) { s.newID = fn }
}

// NewSnapshotStore creates a store persisting to path
func NewSnapshotStore(path string, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{
		path:      path,
		ids:       make(map[string]bool),
		writeFile: AtomicWriteFile,
		newID: func() string {
			return "gm_" + uuid.Must(uuid.NewV7()).String()
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the snapshot file location
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads a leftover snapshot from disk. It reports whether one was found.
func (s *SnapshotStore) Load() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &SnapshotError{Path: s.path, Op: "load", Err: err}
	}

	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, &SnapshotError{Path: s.path, Op: "load", Err: fmt.Errorf("failed to unmarshal snapshot: %w", err)}
	}
	if snap.Version > SnapshotVersion {
		return false, &SnapshotError{Path: s.path, Op: "load", Err: fmt.Errorf("unsupported snapshot version %d", snap.Version)}
	}

	s.current = &snap
	s.ids = make(map[string]bool, len(snap.Items))
	for _, it := range snap.Items {
		s.ids[it.ID()] = true
	}
	return true, nil
}

// Pending reports whether a session snapshot exists
func (s *SnapshotStore) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Begin creates the snapshot for a new session and flushes it
func (s *SnapshotStore) Begin(trigger TriggerSource) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return "", fmt.Errorf("snapshot for session %s already exists", s.current.SessionID)
	}
	snap := &SessionSnapshot{
		Version:   SnapshotVersion,
		SessionID: s.newID(),
		StartedAt: time.Now().UTC(),
		Trigger:   trigger,
		Items:     make([]TweakItem, 0),
	}
	s.current = snap
	s.ids = make(map[string]bool)
	if err := s.flushLocked(); err != nil {
		return snap.SessionID, err
	}
	return snap.SessionID, nil
}

// SessionID returns the id of the current session, or ""
func (s *SnapshotStore) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.SessionID
}

// checkLocked refuses writes from a cancelled task or from a task that ran
// under another session
func (s *SnapshotStore) checkLocked(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.current == nil {
		return fmt.Errorf("no active snapshot")
	}
	if s.current.SessionID != sessionID {
		return fmt.Errorf("session %s: %w", sessionID, ErrStaleSession)
	}
	return nil
}

// Record appends captured items of session sessionID and flushes. Records
// from a cancelled context are refused so a timed-out capture never lands
// in the snapshot. Recording the same (module, key) twice panics.
func (s *SnapshotStore) Record(ctx context.Context, sessionID string, items []TweakItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(ctx, sessionID); err != nil {
		return err
	}
	for _, it := range items {
		id := it.ID()
		if s.ids[id] {
			panic(fmt.Sprintf("snapshot: item %s captured twice", id))
		}
	}
	for _, it := range items {
		s.ids[it.ID()] = true
		s.current.Items = append(s.current.Items, it)
	}
	return s.flushLocked()
}

// Remove drops reverted items of session sessionID and flushes. Like
// Record it refuses a cancelled context, so an abandoned revert that
// finishes late cannot drop items a later session captured.
func (s *SnapshotStore) Remove(ctx context.Context, sessionID string, items []TweakItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	if err := s.checkLocked(ctx, sessionID); err != nil {
		return err
	}
	drop := make(map[string]bool, len(items))
	for _, it := range items {
		drop[it.ID()] = true
	}
	kept := s.current.Items[:0:0]
	for _, it := range s.current.Items {
		if drop[it.ID()] {
			delete(s.ids, it.ID())
			continue
		}
		kept = append(kept, it)
	}
	s.current.Items = kept
	return s.flushLocked()
}

// Items returns a copy of every captured item in capture order
func (s *SnapshotStore) Items() []TweakItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return append([]TweakItem(nil), s.current.Items...)
}

// Snapshot returns a copy of the current snapshot, or nil
func (s *SnapshotStore) Snapshot() *SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	cp.Items = append([]TweakItem(nil), s.current.Items...)
	return &cp
}

// Clear destroys the snapshot on disk and in memory
func (s *SnapshotStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &SnapshotError{Path: s.path, Op: "clear", Err: err}
	}
	s.current = nil
	s.ids = make(map[string]bool)
	return nil
}

func (s *SnapshotStore) flushLocked() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return &SnapshotError{Path: s.path, Op: "flush", Err: fmt.Errorf("failed to marshal snapshot: %w", err)}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &SnapshotError{Path: s.path, Op: "flush", Err: err}
	}
	if err := s.writeFile(s.path, data, 0600); err != nil {
		return &SnapshotError{Path: s.path, Op: "flush", Err: err}
	}
	return nil
}
