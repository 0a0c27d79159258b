package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deadman/internal/storage"
	"deadman/pkg/logx"
	"github.com/stretchr/testify/require"
)

func newTestService(cfg Config) (*Service, *[]string) {
	var resets []string
	h := Handlers{
		Status: func() any { return map[string]int{"watchdogs": 2} },
		Reset: func(name string) error {
			if name != "backup" {
				return ErrNotFound
			}
			resets = append(resets, name)
			return nil
		},
		Alarms: func(_ context.Context, name string, limit int) ([]storage.AlarmRecord, error) {
			if name == "journal-off" {
				return nil, storage.ErrDisabled
			}
			return []storage.AlarmRecord{{Watchdog: "backup", Seq: uint64(limit)}}, nil
		},
	}
	return New(cfg, h, logx.Logger{}), &resets
}

func do(t *testing.T, s *Service, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandler_statusAndAlarms(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(Config{})

	rec := do(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"watchdogs":2}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/alarms?watchdog=backup&limit=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []storage.AlarmRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	require.Equal(t, uint64(7), recs[0].Seq)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/alarms?limit=0", nil).Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/alarms?watchdog=journal-off", nil).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPost, "/status", nil).Code)
}

func TestHandler_reset(t *testing.T) {
	t.Parallel()
	s, resets := newTestService(Config{})

	require.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/reset?watchdog=backup", nil).Code)
	require.Equal(t, []string{"backup"}, *resets)

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/reset?watchdog=nope", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/reset", nil).Code)

	rec := do(t, s, http.MethodGet, "/reset?watchdog=backup", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestHandler_tokenAuth(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(Config{Token: "s3cret"})

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/status", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/status?token=wrong", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/status?token=s3cret", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/status",
		map[string]string{"Authorization": "Bearer s3cret"}).Code)
}

func TestServe_refusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(Config{Addr: "0.0.0.0:0"})
	require.ErrorContains(t, s.Serve(context.Background()), "insecure bind")
	require.NoError(t, CheckBind(Config{Addr: "0.0.0.0:0", Token: "x"}))
	require.NoError(t, CheckBind(Config{Addr: "0.0.0.0:0", AllowInsecure: true}))

	require.True(t, isLoopbackAddr("127.0.0.1:80"))
	require.True(t, isLoopbackAddr("localhost:80"))
	require.True(t, isLoopbackAddr("[::1]:80"))
	require.False(t, isLoopbackAddr(":80"))
	require.False(t, isLoopbackAddr("10.0.0.1:80"))
}

func TestServe_listensUntilCanceled(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	require.Empty(t, s.Addr())
}
