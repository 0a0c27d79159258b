package sdnotify

import (
	"sync"
	"testing"
	"time"

	"deadman/internal/gtest"
	"deadman/pkg/logx"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestNotifier_disabledIsNoop(t *testing.T) {
	t.Parallel()

	var rec recorder
	n := New(false, logx.Logger{})
	n.send = rec.send
	n.interval = func() (time.Duration, error) { return time.Second, nil }

	n.Ready()
	n.Status("ok")
	every, err := n.StartHeartbeat()
	require.NoError(t, err)
	require.Zero(t, every)
	require.Empty(t, rec.states)
}

func TestNotifier_lifecycleMessages(t *testing.T) {
	t.Parallel()

	var rec recorder
	n := New(true, logx.Logger{})
	n.send = rec.send

	n.Ready()
	n.Status("3 watchdogs armed")
	n.Reloading()
	n.Stopping()
	require.Equal(t, []string{"READY=1", "STATUS=3 watchdogs armed", "RELOADING=1", "STOPPING=1"}, rec.states)
}

func TestNotifier_heartbeat(t *testing.T) {
	t.Parallel()

	var rec recorder
	n := New(true, logx.Logger{})
	n.send = rec.send
	n.interval = func() (time.Duration, error) { return gtest.ScaleMs(20).D(), nil }

	every, err := n.StartHeartbeat()
	require.NoError(t, err)
	require.Equal(t, gtest.ScaleMs(10).D(), every)

	gtest.WaitFor(t, gtest.ScaleMs(500), func() bool { return rec.count("WATCHDOG=1") >= 4 })
	n.Stop()

	got := rec.count("WATCHDOG=1")
	gtest.Sleep(gtest.ScaleMs(50))
	require.Equal(t, got, rec.count("WATCHDOG=1"))
}

func TestNotifier_heartbeatNotRequested(t *testing.T) {
	t.Parallel()

	var rec recorder
	n := New(true, logx.Logger{})
	n.send = rec.send
	n.interval = func() (time.Duration, error) { return 0, nil }

	every, err := n.StartHeartbeat()
	require.NoError(t, err)
	require.Zero(t, every)
	n.Stop()
	require.Empty(t, rec.states)
}
