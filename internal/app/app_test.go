package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deadman/internal/gtest"
	"deadman/internal/notifier"
	"deadman/internal/recovery"
	"deadman/internal/storage"
	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	mu     sync.Mutex
	units  []string
	closed bool
}

func (f *fakeRestarter) Restart(_ context.Context, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = append(f.units, recovery.UnitName(unit))
	return nil
}

func (f *fakeRestarter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRestarter) restarted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.units...)
}

type captureSink struct {
	mu     sync.Mutex
	alerts []notifier.Alert
}

func (*captureSink) Name() string { return "capture" }

func (c *captureSink) Send(_ context.Context, a notifier.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureSink) received() []notifier.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.Alert(nil), c.alerts...)
}

func writeConfig(t *testing.T, path string, cfg map[string]any) {
	t.Helper()
	base := map[string]any{
		"logging": map[string]any{"level": "error"},
	}
	for k, v := range cfg {
		base[k] = v
	}
	b, err := json.Marshal(base)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
}

func startApp(t *testing.T, path string, opts ...Option) *App {
	t.Helper()
	a, err := New(path, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx))
	})
	return a
}

func status(a *App, name string) (WatchdogStatus, bool) {
	for _, w := range a.Snapshot().Watchdogs {
		if w.Name == name {
			return w, true
		}
	}
	return WatchdogStatus{}, false
}

func TestApp_alarmNotifiesRestartsAndJournals(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "deadman.json")
	writeConfig(t, path, map[string]any{
		"storage":  map[string]any{"driver": "file", "path": filepath.Join(dir, "journal")},
		"notifier": map[string]any{"enabled": true, "rate_per_sec": 100},
		"watchdogs": []map[string]any{
			{"name": "backup", "period": "150ms", "restart_unit": "backup"},
		},
	})

	restarter := &fakeRestarter{}
	sink := &captureSink{}
	a := startApp(t, path, WithRestarter(restarter), WithSinks(sink))

	gtest.WaitFor(t, gtest.ScaleMs(3000), func() bool {
		recs, err := a.RecentAlarms(context.Background(), "backup", 10)
		return err == nil && len(recs) >= 2
	})

	recs, err := a.RecentAlarms(context.Background(), "backup", 10)
	require.NoError(t, err)
	require.Greater(t, recs[0].Seq, recs[1].Seq)
	require.Equal(t, "restart:backup.service", recs[0].Action)
	require.Empty(t, recs[0].Error)
	require.Equal(t, 150*time.Millisecond, recs[0].Period)

	require.Contains(t, restarter.restarted(), "backup.service")

	gtest.WaitFor(t, gtest.ScaleMs(2000), func() bool { return len(sink.received()) >= 1 })
	got := sink.received()[0]
	require.Equal(t, "backup", got.Watchdog)
	require.Equal(t, notifier.SeverityWarning, got.Severity)
	require.Equal(t, uint64(1), got.Seq)

	st, ok := status(a, "backup")
	require.True(t, ok)
	require.Equal(t, "running", st.State)
	require.GreaterOrEqual(t, st.Alarms, uint64(2))
	require.False(t, st.LastAlarm.IsZero())
}

func TestApp_heartbeatFileKeepsWatchdogQuiet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	beat := filepath.Join(dir, "job.beat")
	path := filepath.Join(dir, "deadman.yaml")
	writeConfig(t, path, map[string]any{
		"watchdogs": []map[string]any{
			{"name": "job", "period": "600ms", "heartbeat_file": beat},
		},
	})

	a := startApp(t, path)
	// Let the heartbeat watcher register the directory.
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 12; i++ {
		require.NoError(t, os.WriteFile(beat, []byte("ok"), 0o600))
		time.Sleep(100 * time.Millisecond)
	}

	st, ok := status(a, "job")
	require.True(t, ok)
	require.Zero(t, st.Alarms)
	require.GreaterOrEqual(t, st.Resets, uint64(5))
	require.GreaterOrEqual(t, a.Snapshot().Heartbeats, uint64(5))
}

func TestApp_ResetUnknownWatchdog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deadman.json")
	writeConfig(t, path, map[string]any{
		"watchdogs": []map[string]any{{"name": "a", "period": "1m"}},
	})
	a := startApp(t, path)

	require.NoError(t, a.Reset("a"))
	err := a.Reset("nope")
	require.ErrorIs(t, err, ErrUnknownWatchdog)
	require.ErrorContains(t, err, `"nope"`)

	_, err = a.RecentAlarms(context.Background(), "", 1)
	require.ErrorIs(t, err, storage.ErrDisabled)
}

func TestApp_reloadAppliesWatchdogChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deadman.json")
	writeConfig(t, path, map[string]any{
		"watchdogs": []map[string]any{
			{"name": "a", "period": "10s"},
			{"name": "gone", "period": "1m"},
		},
	})
	a := startApp(t, path)
	before, ok := status(a, "a")
	require.True(t, ok)

	// Let the config watcher register the directory.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, map[string]any{
		"watchdogs": []map[string]any{
			{"name": "a", "period": "20s"},
			{"name": "gone", "period": "1m", "disabled": true},
			{"name": "b", "period": "00:01"},
		},
	})

	gtest.WaitFor(t, gtest.ScaleMs(3000), func() bool {
		_, hasB := status(a, "b")
		return hasB
	})

	snap := a.Snapshot()
	require.Len(t, snap.Watchdogs, 2)

	after, ok := status(a, "a")
	require.True(t, ok)
	require.Equal(t, 20*time.Second, after.Period)
	// A period-only change keeps the timer and restarts its countdown.
	require.Equal(t, before.Resets+1, after.Resets)

	b, _ := status(a, "b")
	require.Equal(t, time.Minute, b.Period)
	require.Equal(t, "running", b.State)

	_, ok = status(a, "gone")
	require.False(t, ok)
}

func TestApp_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deadman.json")
	writeConfig(t, path, map[string]any{
		"watchdogs": []map[string]any{{"name": "a", "period": "1m"}},
	})
	restarter := &fakeRestarter{}
	a, err := New(path, WithRestarter(restarter))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))

	<-a.Done()
	require.Empty(t, a.Snapshot().Watchdogs)
	restarter.mu.Lock()
	require.True(t, restarter.closed)
	restarter.mu.Unlock()
}

func TestApp_httpResetAndStatus(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deadman.json")
	writeConfig(t, path, map[string]any{
		"http":      map[string]any{"enabled": true, "addr": "127.0.0.1:0", "token": "t0k"},
		"watchdogs": []map[string]any{{"name": "nightly", "period": "1h"}},
	})
	a := startApp(t, path)

	gtest.WaitFor(t, gtest.ScaleMs(2000), func() bool { return a.api.Addr() != "" })
	base := "http://" + a.api.Addr()

	post := func(target string) int {
		req, err := http.NewRequest(http.MethodPost, base+target, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer t0k")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusNoContent, post("/reset?watchdog=nightly"))
	require.Equal(t, http.StatusNotFound, post("/reset?watchdog=daily"))

	resp, err := http.Get(base + "/status?token=t0k")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Watchdogs, 1)
	require.Equal(t, "nightly", snap.Watchdogs[0].Name)
	require.Equal(t, uint64(1), snap.Watchdogs[0].Resets)
}

func TestNew_rejectsPublicHTTPWithoutToken(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deadman.json")
	writeConfig(t, path, map[string]any{
		"http":      map[string]any{"enabled": true, "addr": "0.0.0.0:9797"},
		"watchdogs": []map[string]any{{"name": "a", "period": "1m"}},
	})
	_, err := New(path)
	require.ErrorContains(t, err, "insecure bind")
}
