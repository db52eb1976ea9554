// Package eventsched turns stored events into durable timers and keeps the
// two in step.
//
// Schedule registers the reminder, start and end timers of one occurrence.
// Reschedule swaps them for a fresh set in one transaction, Unschedule drops
// them. Firings come back through HandleFire: reminder and start timers go to
// the dispatcher, the end timer either renews a recurring event (same id, next
// occurrence) or removes a finished one-off event. Reconcile repairs events
// that have no live timers, at startup and periodically.
//
// All operations on one event id are serialized by a striped lock, so a firing
// never observes a half-replaced timer set.
package eventsched
