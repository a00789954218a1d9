// Package timer is the alarm-scheduling service: slot-keyed registrations
// that deliver an opaque payload back to a receiver when they come due.
//
// Exact one-shot registrations are armed on an injectable clock and removed
// after delivery. Inexact repeating registrations are expressed as RFC 5545
// recurrence rules and triggered by a cron runner.
package timer
