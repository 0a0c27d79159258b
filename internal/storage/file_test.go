package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deadman/pkg/logx"
	"github.com/stretchr/testify/require"
)

func TestOpen_disabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Logger{})
		require.NoError(t, err)
		require.Nil(t, st)
	}

	_, err := Open(Config{Driver: "redis"}, logx.Logger{})
	require.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Logger{})
	require.ErrorContains(t, err, "storage.path")
}

func TestFileStore_alarms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "deadman.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Logger{})
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		name := "backup"
		if i%2 == 0 {
			name = "ingest"
		}
		require.NoError(t, st.AppendAlarm(ctx, AlarmRecord{
			At:       base.Add(time.Duration(i) * time.Minute),
			Watchdog: name,
			Seq:      uint64(i),
			Period:   time.Minute,
			Action:   fmt.Sprintf("a%d", i),
		}))
	}

	all, err := st.RecentAlarms(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []uint64{5, 4, 3}, []uint64{all[0].Seq, all[1].Seq, all[2].Seq})
	require.True(t, all[0].At.Equal(base.Add(5*time.Minute)))
	require.Equal(t, time.Minute, all[0].Period)

	backups, err := st.RecentAlarms(ctx, "backup", 10)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	require.Equal(t, uint64(5), backups[0].Seq)
	require.Equal(t, uint64(1), backups[2].Seq)

	none, err := st.RecentAlarms(ctx, "backup", 0)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "deadman.alarms.jsonl"))
	require.NoError(t, err)

	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AppendAlarm(ctx, AlarmRecord{Watchdog: "x"}), ErrClosed)
	_, err = st.RecentAlarms(ctx, "", 1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestFileStore_dedupSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "deadman")}

	st, err := Open(cfg, logx.Logger{})
	require.NoError(t, err)

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.PutDedup(ctx, "alarm:backup", until))
	require.NoError(t, st.PutDedup(ctx, "alarm:expired", time.Now().Add(-time.Minute)))
	require.NoError(t, st.PutDedup(ctx, "  ", until))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Logger{})
	require.NoError(t, err)
	defer st.Close()

	got, ok, err := st.GetDedup(ctx, "alarm:backup")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(until))

	_, ok, err = st.GetDedup(ctx, "alarm:expired")
	require.NoError(t, err)
	require.False(t, ok)
}
