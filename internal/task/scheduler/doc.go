// Package scheduler runs the single loop that decides what runs next and runs it.
//
// Each pass of the loop:
//   - prunes exhausted jobs from the registry
//   - computes the earliest next occurrence T (or an idle deadline)
//   - sleeps until T, waking early on shutdown or registry changes
//   - runs every job due at T concurrently and waits for the batch
//   - cools down before the next pass
package scheduler
