package internal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...SnapshotOption) *SnapshotStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	return NewSnapshotStore(path, opts...)
}

func mustItem(t *testing.T, kind ModuleKind, key string, original any) TweakItem {
	t.Helper()
	it, err := NewItem(kind, key, original, nil)
	require.NoError(t, err)
	return it
}

func TestSnapshotStore_BeginWritesFile(t *testing.T) {
	s := newTestStore(t, WithSessionIDGenerator(func() string { return "gm_test" }))

	id, err := s.Begin(TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, "gm_test", id)
	assert.True(t, s.Pending())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var snap SessionSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "gm_test", snap.SessionID)
	assert.Equal(t, TriggerCLI, snap.Trigger)
	assert.Empty(t, snap.Items)
}

func TestSnapshotStore_BeginTwice(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin(TriggerCLI)
	require.NoError(t, err)
	_, err = s.Begin(TriggerCLI)
	assert.Error(t, err)
}

func TestSnapshotStore_DefaultSessionID(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Begin(TriggerDetector)
	require.NoError(t, err)
	assert.Regexp(t, `^gm_[0-9a-f-]{36}$`, id)
}

func TestSnapshotStore_RecordAndReload(t *testing.T) {
	s := newTestStore(t)
	sid, err := s.Begin(TriggerCLI)
	require.NoError(t, err)

	items := []TweakItem{
		mustItem(t, ModuleRegistry, `HKLM\A\B`, map[string]any{"type": "dword", "data": 2}),
		mustItem(t, ModuleServices, "SysMain", map[string]any{"start_mode": "auto", "running": true}),
	}
	require.NoError(t, s.Record(context.Background(), sid, items))

	reloaded := NewSnapshotStore(s.Path())
	found, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, found)

	got := reloaded.Items()
	require.Len(t, got, 2)
	assert.Equal(t, items[0].ID(), got[0].ID())
	assert.JSONEq(t, string(items[1].Original), string(got[1].Original))
}

func TestSnapshotStore_RecordRefusesCancelledContext(t *testing.T) {
	s := newTestStore(t)
	sid, err := s.Begin(TriggerCLI)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Record(ctx, sid, []TweakItem{mustItem(t, ModuleProcess, "chrome", map[string]any{"running": true})})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Items())
}

func TestSnapshotStore_RecordDuplicatePanics(t *testing.T) {
	s := newTestStore(t)
	sid, err := s.Begin(TriggerCLI)
	require.NoError(t, err)

	it := mustItem(t, ModulePower, "plan", "guid")
	require.NoError(t, s.Record(context.Background(), sid, []TweakItem{it}))
	assert.Panics(t, func() {
		_ = s.Record(context.Background(), sid, []TweakItem{it})
	})
}

func TestSnapshotStore_RecordWithoutBegin(t *testing.T) {
	s := newTestStore(t)
	err := s.Record(context.Background(), "gm_none", []TweakItem{mustItem(t, ModulePower, "plan", "guid")})
	assert.Error(t, err)
}

func TestSnapshotStore_RemoveAndClear(t *testing.T) {
	s := newTestStore(t)
	sid, err := s.Begin(TriggerCLI)
	require.NoError(t, err)

	a := mustItem(t, ModuleServices, "SysMain", "a")
	b := mustItem(t, ModuleServices, "WSearch", "b")
	require.NoError(t, s.Record(context.Background(), sid, []TweakItem{a, b}))

	require.NoError(t, s.Remove(context.Background(), sid, []TweakItem{a}))
	remaining := s.Items()
	require.Len(t, remaining, 1)
	assert.Equal(t, "WSearch", remaining[0].Key)

	// a removed item can be captured again
	require.NoError(t, s.Record(context.Background(), sid, []TweakItem{a}))

	require.NoError(t, s.Clear())
	assert.False(t, s.Pending())
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	// clearing twice is fine
	require.NoError(t, s.Clear())
}

func TestSnapshotStore_RemoveRefusesStaleWrites(t *testing.T) {
	s := newTestStore(t, WithSessionIDGenerator(func() string { return "gm_second" }))
	sid, err := s.Begin(TriggerCLI)
	require.NoError(t, err)
	it := mustItem(t, ModuleRegistry, `HKLM\A\B`, "1")
	require.NoError(t, s.Record(context.Background(), sid, []TweakItem{it}))

	// a revert that ran under an earlier session
	err = s.Remove(context.Background(), "gm_first", []TweakItem{it})
	assert.ErrorIs(t, err, ErrStaleSession)

	// a revert whose task was cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Remove(ctx, sid, []TweakItem{it})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, s.Items(), 1)
	reloaded := NewSnapshotStore(s.Path())
	found, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, reloaded.Items(), 1)
	assert.Equal(t, "gm_second", reloaded.SessionID())
}

func TestSnapshotStore_FlushFailure(t *testing.T) {
	boom := errors.New("disk full")
	s := newTestStore(t, WithSnapshotWriter(func(string, []byte, os.FileMode) error { return boom }))

	_, err := s.Begin(TriggerCLI)
	var snapErr *SnapshotError
	require.ErrorAs(t, err, &snapErr)
	assert.Equal(t, "flush", snapErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, KindSnapshotIO, KindOf(err))
}

func TestSnapshotStore_Load(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantFound bool
		wantErr   bool
	}{
		{name: "missing file", content: "", wantFound: false},
		{name: "corrupt file", content: "{not json", wantErr: true},
		{name: "future version", content: `{"version":99,"session_id":"gm_x","items":[]}`, wantErr: true},
		{name: "valid", content: `{"version":1,"session_id":"gm_x","trigger_source":"cli","items":[{"module":"power","key":"plan","original":"\"abc\""}]}`, wantFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if tt.content != "" {
				require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
				require.NoError(t, os.WriteFile(s.Path(), []byte(tt.content), 0600))
			}
			found, err := s.Load()
			if tt.wantErr {
				var snapErr *SnapshotError
				assert.ErrorAs(t, err, &snapErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantFound, s.Pending())
		})
	}
}
