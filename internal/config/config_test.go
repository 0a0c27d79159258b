package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
systemd:
  notify: true
storage:
  driver: file
  path: ./journal
notifier:
  enabled: true
  queue_size: 16
  rate_per_sec: 2
  retry_max: 3
  retry_base: 500ms
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: -100200300
    thread_id: 7
watchdogs:
  - name: backup
    period: "@every 30s"
    heartbeat_file: /run/backup.beat
    restart_unit: backup
  - name: ingest
    period: "00:05"
  - name: legacy
    period: 1h
    disabled: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestManager_LoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, t.TempDir(), "deadman.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())

	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Systemd.Notify)
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Equal(t, int64(-100200300), cfg.Notifier.Telegram.ChatID)
	require.Len(t, cfg.Watchdogs, 3)

	enabled := cfg.Enabled()
	require.Len(t, enabled, 2)
	require.Equal(t, "backup", enabled[0].Name)

	d, err := WatchdogPeriod(enabled[1])
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)
}

func TestManager_ParseJSONStrict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := NewManager(writeFile(t, dir, "a.json", `{"watchdogs":[],"bogus":1}`)).Parse()
	require.ErrorContains(t, err, "bogus")

	_, err = NewManager(writeFile(t, dir, "b.json", `{"watchdogs":[]}{}`)).Parse()
	require.ErrorContains(t, err, "trailing data")

	_, err = NewManager(writeFile(t, dir, "c.yaml", "watchdogs:\n  - name: a\n    period: 1s\n    perod: 2s\n")).Parse()
	require.ErrorContains(t, err, "perod")

	cfg, err := NewManager(writeFile(t, dir, "empty.yaml", "")).Parse()
	require.NoError(t, err)
	require.Empty(t, cfg.Watchdogs)
}

func TestConfig_ValidateAggregates(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Storage: &StorageConfig{Driver: "redis"},
		Notifier: &NotifierConfig{
			RetryBase: "soon",
			Telegram:  &TelegramConfig{Enabled: true},
		},
		Watchdogs: []WatchdogConfig{
			{Name: "a", Period: "1s", HeartbeatFile: "/tmp/x"},
			{Name: "a", Period: "2s"},
			{Name: "", Period: "1s"},
			{Name: "b", Period: "0 9 * * 1-5"},
			{Name: "c", Period: "1s", HeartbeatFile: "/tmp/./x"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`already used by watchdogs[0]`,
		`watchdogs[2].name: required`,
		`watchdogs[b].period`,
		`already watched by "a"`,
		`unknown driver "redis"`,
		`notifier.retry_base`,
		`notifier.telegram.token`,
		`notifier.telegram.chat_id`,
	} {
		require.Contains(t, msg, want)
	}
	require.Len(t, strings.Split(msg, "\n"), 8)
}

func TestManager_LoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, t.TempDir(), "bad.yaml", "watchdogs:\n  - name: x\n    period: 0s\n"))
	_, err := m.Load()
	require.ErrorContains(t, err, "watchdogs[x].period")
	require.Nil(t, m.Get())
}

func TestDiff(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Watchdogs: []WatchdogConfig{
			{Name: "keep", Period: "1m"},
			{Name: "retime", Period: "1m"},
			{Name: "rebuild", Period: "1m", RestartUnit: "a"},
			{Name: "gone", Period: "1m"},
			{Name: "disable", Period: "1m"},
		},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Watchdogs: []WatchdogConfig{
			{Name: "keep", Period: "1m"},
			{Name: "retime", Period: "30s"},
			{Name: "rebuild", Period: "1m", RestartUnit: "b"},
			{Name: "disable", Period: "1m", Disabled: true},
			{Name: "fresh", Period: "5s"},
		},
	}

	ch := Diff(oldCfg, newCfg)
	require.False(t, ch.Empty())
	require.True(t, ch.Logging)
	require.False(t, ch.Notifier)
	require.Equal(t, []string{"disable", "gone"}, ch.Removed)
	require.Len(t, ch.Added, 1)
	require.Equal(t, "fresh", ch.Added[0].Name)

	require.Len(t, ch.Changed, 2)
	byName := map[string]WatchdogChange{}
	for _, c := range ch.Changed {
		byName[c.New.Name] = c
	}
	require.True(t, byName["retime"].PeriodOnly())
	require.False(t, byName["rebuild"].PeriodOnly())
	require.Equal(t, []string{"logging", "watchdogs"}, ch.Sections())

	require.True(t, Diff(newCfg, newCfg).Empty())
	require.Len(t, Diff(nil, newCfg).Added, 4)
}

func TestManager_WatchPublishesChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "deadman.json", `{"watchdogs":[{"name":"a","period":"1m"}]}`)

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	require.NoError(t, os.WriteFile(path, []byte(`{"watchdogs":[{"name":"a","period":"-1s"}]}`), 0o600))
	select {
	case cfg := <-sub:
		t.Fatalf("unexpected publish: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"watchdogs":[{"name":"a","period":"30s"}]}`), 0o600))
	select {
	case cfg := <-sub:
		require.Equal(t, "30s", cfg.Watchdogs[0].Period)
		require.Same(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
