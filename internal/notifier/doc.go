// Package notifier posts alarm notifications.
//
// A notification is posted on a channel (id, name, importance, vibration
// pattern) registered once with EnsureChannel, and is identified by its slot
// id: posting on a slot replaces whatever was visible on it.
//
// # Sinks
//
// Delivery is delegated to Sinks (log, chat, web). Show hands each post to
// every sink exactly once. There is no queue, batching, rate limiting or
// retry: a failed sink is logged and reported on the event bus.
//
// # History
//
// For operator visibility the service keeps a bounded in-memory history of
// posted notifications next to the currently active ones.
package notifier
