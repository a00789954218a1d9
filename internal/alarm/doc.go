// Package alarm validates reminder requests, registers them with an alarm
// scheduling service and turns delivered payloads into notifications.
//
// Two fixed slots exist: one one-time alarm (slot 1012) and one daily
// repeating alarm (slot 1013). Scheduling a kind again replaces the pending
// registration of that kind.
//
// The scheduling service, the notification service and the user-facing
// feedback channel are injected ports (SchedulerPort, NotifierPort, Feedback)
// so the Scheduler can run against in-memory fakes.
package alarm
