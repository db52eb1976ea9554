// Package storage persists calendars, events, RSVPs, permissions, the audit
// log and the durable pending-timer table in SQLite.
//
// All instants are stored as Unix nanoseconds so a value read back compares
// Equal to the one written.
package storage
