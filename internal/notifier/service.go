package notifier

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	rtsup "deadman/internal/runtime/supervisor"
	"deadman/internal/storage"
	"deadman/pkg/logx"
	"github.com/eapache/queue"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements an async alert pipeline:
// queue + single worker + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	// sendMu is held for reading while enqueueing so Stop can close the
	// queue once no sender is mid-send.
	sendMu    sync.RWMutex
	accepting bool
	queue     chan Alert
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history *queue.Queue
}

// New builds a stopped Service. store may be nil.
func New(cfg Config, log logx.Logger, store storage.Store, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notifier")),
		sinks:   sinks,
		store:   store,
		dedup:   map[string]time.Time{},
		history: queue.New(),
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps throttling, retry, dedup and history settings.
// QueueSize and Enabled take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}

	s.cfg = cfg
	// Burst equals the per-second rate so short alarm storms are not delayed.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the worker. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}

	q := make(chan Alert, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("notifier.worker", func(c context.Context) error {
		return s.workerLoop(c, q)
	})

	s.sendMu.Lock()
	s.queue = q
	s.accepting = true
	s.sendMu.Unlock()
}

// Stop stops intake and drains the queue until ctx is done, then abandons
// whatever is left.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	s.sendMu.Lock()
	s.accepting = false
	close(s.queue)
	s.queue = nil
	s.sendMu.Unlock()

	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("notifier worker failed", logx.Err(err))
	}
	// Make sure nothing outlives Stop.
	sup.Cancel()
	_ = sup.Wait(context.Background())
}

// Notify queues a for delivery without blocking.
func (s *Service) Notify(a Alert) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if !s.accepting {
		return ErrStopped
	}
	select {
	case s.queue <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, 0, s.history.Length())
	for i := 0; i < s.history.Length(); i++ {
		out = append(out, s.history.Get(i).(HistoryItem))
	}
	return out
}

func (s *Service) appendHistory(h HistoryItem, max int) {
	s.hmu.Lock()
	s.history.Add(h)
	for s.history.Length() > max {
		s.history.Remove()
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Alert) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, a)
		}
	}
}

func (s *Service) deliver(ctx context.Context, a Alert) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if cfg.DedupWindow > 0 && !s.dedupAllow(ctx, dedupKey(a), cfg.DedupWindow) {
		s.log.Debug("alert suppressed", logx.String("watchdog", a.Watchdog), logx.String("severity", a.Severity.String()))
		return
	}

	for _, sink := range s.sinks {
		attempts, err := s.sendWithRetry(ctx, cfg, lim, sink, a)
		h := HistoryItem{At: time.Now(), Sink: sink.Name(), Watchdog: a.Watchdog, Text: a.Text, Attempts: attempts}
		if err != nil {
			h.Err = err.Error()
			s.log.Warn("alert delivery failed", logx.String("sink", sink.Name()),
				logx.String("watchdog", a.Watchdog), logx.Int("attempts", attempts), logx.Err(err))
		}
		s.appendHistory(h, cfg.HistorySize)
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, sink Sink, a Alert) (int, error) {
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return attempt - 1, err
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Send(callCtx, a)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.String("sink", sink.Name()), logx.Err(err),
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, ctx.Err()
		}
	}
	return maxAttempts, lastErr
}

func dedupKey(a Alert) string {
	return "alert:" + a.Watchdog + ":" + strconv.Itoa(int(a.Severity))
}

// dedupAllow reports whether key is outside its suppression window and,
// if so, opens a new one.
func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration) bool {
	now := time.Now()

	s.dmu.Lock()
	until, ok := s.dedup[key]
	s.dmu.Unlock()
	if ok && now.Before(until) {
		return false
	}

	// Persistent check for cross-restart dedup (best-effort).
	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until = now.Add(window)
	s.dmu.Lock()
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = until
	s.dmu.Unlock()

	if s.store != nil {
		if err := s.store.PutDedup(ctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.String("key", key), logx.Err(err))
		}
	}
	return true
}

// retryDelay returns the wait before attempt+1: base * 2^(attempt-1),
// capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
