// Package storage is coinbot's relational persistence layer (SQLite).
//
// It holds:
//   - Accounts and their coin balances (economy)
//   - Draw tickets and settled draws
//   - Calendar events that reminders are derived from
//   - The job run audit log
//
// Pending scheduler jobs are never stored; reminders are recomputed from events.
package storage
