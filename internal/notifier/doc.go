// Package notifier delivers watchdog alerts to operators.
//
// Alerts are queued without blocking the caller (the watchdog alarm handler)
// and sent by a single worker to every configured Sink, for example the log
// sink or a Telegram chat.
//
// # Delivery
//
// Sends are throttled with a token bucket and retried with jittered
// exponential backoff. Repeated alerts for the same watchdog and severity can
// be suppressed for a dedup window; with a store, the window survives
// restarts.
//
// # History
//
// The service keeps a small in-memory ring of recent deliveries for status
// output.
package notifier
