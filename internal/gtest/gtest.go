// Package gtest holds timing helpers shared by deadman's tests.
//
// Timer-driven code is tested against wall-clock sleeps, so every duration
// a test waits on goes through [ScaleMs]. A loaded CI machine can stretch
// them by setting DEADMAN_TEST_TIME_FACTOR to a positive integer.
package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor multiplies every duration produced by [ScaleMs].
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("DEADMAN_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf("failed to parse DEADMAN_TEST_TIME_FACTOR (%q) into an integer: %w", f, err))
	}
	if n <= 0 {
		panic(fmt.Errorf("DEADMAN_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

type ScaledDuration time.Duration

// ScaleMs returns ms milliseconds multiplied by [TimeFactor].
func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

// D converts a scaled duration back for APIs that take a time.Duration.
func (d ScaledDuration) D() time.Duration { return time.Duration(d) }

// Sleep calls [time.Sleep] with the scaled duration.
func Sleep(d ScaledDuration) { time.Sleep(time.Duration(d)) }

// FatalHelper is the subset of [testing.TB] used here.
type FatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

// ReceiveSoon receives from ch or fails the test after a short scaled timeout.
func ReceiveSoon[T any](tb FatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(500))
}

// ReceiveOrTimeout receives from ch or fails the test once timeout elapses.
func ReceiveOrTimeout[T any](tb FatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("refusing to receive from nil channel %T", ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case x := <-ch:
		return x
	case <-timer.C:
		tb.Fatalf(
			"timed out after %s receiving from %T; raise DEADMAN_TEST_TIME_FACTOR (currently %d) if this only flakes on a slow machine",
			time.Duration(timeout), ch, TimeFactor,
		)
		panic("unreachable")
	}
}

// NotSendingSoon asserts that nothing arrives on ch for a short scaled duration.
func NotSendingSoon[T any](tb FatalHelper, ch <-chan T) {
	tb.Helper()

	timer := time.NewTimer(time.Duration(ScaleMs(75)))
	defer timer.Stop()

	select {
	case x := <-ch:
		tb.Fatalf("received %v on %T, expected nothing", x, ch)
	case <-timer.C:
	}
}

// WaitFor polls cond every few milliseconds until it returns true,
// failing the test when timeout elapses first.
func WaitFor(tb FatalHelper, timeout ScaledDuration, cond func() bool) {
	tb.Helper()

	deadline := time.Now().Add(time.Duration(timeout))
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatalf("condition not met within %s", time.Duration(timeout))
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}
