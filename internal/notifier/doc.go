// Package notifier delivers event reminders and start announcements.
//
// SendReminder and SendStart render the message and queue it; a worker pool
// sends through the adapter named by the delivery target, rate limited and
// retried with backoff. Delivery outcomes are published on the event bus and
// logged. Callers never see a send error: a lost notification is acceptable,
// a blocked timer is not.
package notifier
