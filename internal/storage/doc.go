// Package storage persists the message deletion schedule.
//
// The schedule is a mapping from (message_id, channel_id) to the UTC time at
// which the message must be deleted. Two interchangeable backends exist:
//
//   - "file": a JSON snapshot of the whole mapping, rewritten atomically on
//     every mutation (single-process, mutex-serialized writers)
//   - "sqlite": one row per key with an upsert write path
//
// Both backends report connectivity/corruption failures as ErrUnavailable so
// callers can distinguish "backend is broken" from per-entry problems.
package storage
