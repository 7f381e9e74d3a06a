package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/process"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcs struct {
	names []string
	err   error
}

func (f *fakeProcs) List(ctx context.Context) ([]process.Proc, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]process.Proc, len(f.names))
	for i, n := range f.names {
		out[i] = process.Proc{PID: uint32(i + 1), Name: n}
	}
	return out, nil
}
func (f *fakeProcs) Suspend(uint32) error   { return nil }
func (f *fakeProcs) Resume(uint32) error    { return nil }
func (f *fakeProcs) Terminate(uint32) error { return nil }
func (f *fakeProcs) Launch(string) error    { return nil }

func (f *fakeProcs) Priority(uint32) (uint32, error)  { return process.PriorityNormal, nil }
func (f *fakeProcs) SetPriority(uint32, uint32) error { return nil }

type fakeSession struct {
	state         internal.SessionState
	deactivateErr error
	calls         []string
}

func (f *fakeSession) Activate(ctx context.Context, trigger internal.TriggerSource) (*internal.Report, error) {
	f.calls = append(f.calls, "activate:"+string(trigger))
	f.state = internal.StateActive
	return &internal.Report{Phase: internal.PhaseApply, Trigger: trigger}, nil
}

func (f *fakeSession) Deactivate(ctx context.Context, trigger internal.TriggerSource) (*internal.Report, error) {
	f.calls = append(f.calls, "deactivate:"+string(trigger))
	if f.deactivateErr != nil {
		f.state = internal.StateError
		return &internal.Report{Phase: internal.PhaseRevert}, f.deactivateErr
	}
	f.state = internal.StateInactive
	return &internal.Report{Phase: internal.PhaseRevert, Trigger: trigger}, nil
}

func (f *fakeSession) Status() internal.SessionState { return f.state }

func TestWatcher_GameLifecycle(t *testing.T) {
	procs := &fakeProcs{names: []string{"explorer.exe"}}
	sess := &fakeSession{}
	w := New(procs, sess, []string{"cs2", "League of Legends"}, time.Second)
	var events []Event
	w.OnEvent = func(e Event, _ *internal.Report) { events = append(events, e) }
	ctx := context.Background()

	tests := []struct {
		name    string
		running []string
		want    Event
	}{
		{"idle", []string{"explorer.exe"}, EventNone},
		{"game starts", []string{"explorer.exe", "CS2.exe"}, EventActivated},
		{"game still running", []string{"cs2.exe"}, EventNone},
		{"second game", []string{"cs2.exe", "League of Legends.exe"}, EventNone},
		{"games exit", []string{"explorer.exe"}, EventDeactivated},
		{"idle again", nil, EventNone},
	}
	for _, tt := range tests {
		procs.names = tt.running
		got, err := w.Poll(ctx)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.Equal(t, []string{"activate:detector", "deactivate:detector"}, sess.calls)
	assert.Equal(t, []Event{EventActivated, EventDeactivated}, events)
}

func TestWatcher_LeavesForeignSessionsAlone(t *testing.T) {
	procs := &fakeProcs{}
	sess := &fakeSession{state: internal.StateActive}
	w := New(procs, sess, []string{"cs2"}, 0)
	assert.Equal(t, DefaultPollInterval, w.interval)

	got, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventNone, got)
	assert.Empty(t, sess.calls, "a CLI session is not ended by the detector")
}

func TestWatcher_RetriesFailedDeactivate(t *testing.T) {
	procs := &fakeProcs{names: []string{"r5apex.exe"}}
	sess := &fakeSession{}
	w := New(procs, sess, []string{"r5apex"}, time.Second)
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)

	procs.names = nil
	sess.deactivateErr = internal.ErrBusy
	_, err = w.Poll(ctx)
	assert.ErrorIs(t, err, internal.ErrBusy)
	assert.Equal(t, internal.StateError, sess.state)

	sess.deactivateErr = nil
	got, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventDeactivated, got)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	procs := &fakeProcs{names: []string{"valheim.exe"}}
	sess := &fakeSession{}
	w := New(procs, sess, []string{"valheim"}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, []string{"activate:detector"}, sess.calls)
}

func TestWatcher_RunUnsupported(t *testing.T) {
	procs := &fakeProcs{err: errors.Join(errors.New("process table"), internal.ErrUnsupported)}
	w := New(procs, &fakeSession{}, []string{"cs2"}, time.Millisecond)
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, internal.ErrUnsupported)
}

func TestWatcher_RunPollsOnEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	procs := &fakeProcs{names: []string{"cs2.exe"}}
	sess := &fakeSession{}
	w := New(procs, sess, []string{"cs2"}, 5*time.Second, WithClock(clock))
	events := make(chan Event, 4)
	w.OnEvent = func(e Event, _ *internal.Report) { events <- e }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case e := <-events:
		assert.Equal(t, EventActivated, e, "first poll runs without waiting for a tick")
	case <-time.After(time.Second):
		t.Fatal("no activation")
	}

	procs.names = nil
	clock.Advance(5 * time.Second)
	select {
	case e := <-events:
		assert.Equal(t, EventDeactivated, e)
	case <-time.After(time.Second):
		t.Fatal("no deactivation after tick")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"activate:detector", "deactivate:detector"}, sess.calls)
}
