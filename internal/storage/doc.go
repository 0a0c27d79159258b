// Package storage persists deadman's alarm journal.
//
// It currently records:
//   - one entry per watchdog alarm (what fired, when, and what was done about it)
//   - notifier dedup deadlines, so a restart does not re-send a suppressed alert
//
// Timer state itself is never persisted; watchdogs always start fresh.
package storage
