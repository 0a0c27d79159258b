// Package periodic provides Task, a fixed-delay repeating timer.
//
// A Task owns one goroutine while it runs. The goroutine waits for the
// configured period, invokes the tick handler synchronously, and repeats
// until Stop is called or the handler fails. Because the next wait only
// begins after the handler returns, ticks of a single Task never overlap,
// and handler execution time is added on top of the period (fixed delay,
// not fixed rate).
//
// The lifecycle is one-shot: Created -> Running -> Stopped.
// A stopped Task cannot be started again; build a new one instead.
//
// Nothing here makes real-time promises. The host scheduler may delay any
// wake-up, so callers must tolerate drift and jitter.
package periodic
