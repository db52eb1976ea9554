// Package scheduler triggers work on the task engine.
//
// Timers is the durable one-shot store behind event reminders, starts and
// ends: rows live in storage, runtime time.Timers are rebuilt from them on
// Start, and each firing is claimed in storage before it is handed on.
//
// Service runs recurring housekeeping (cron specs and @every intervals).
package scheduler
