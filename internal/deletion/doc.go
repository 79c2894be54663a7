// Package deletion implements durable deferred message deletion.
//
// The relay schedules a deletion by writing (message, chat) -> due time into
// the schedule store; a periodic sweep finds due entries and deletes the
// messages through the chat gateway. The sweep is the ONLY execution trigger:
// there are no per-entry timers, so no two code paths can race over the same
// entry. Entries survive restarts because the store is durable and recovery
// replays overdue entries at boot.
//
// Backend-wide store failures escalate exactly once (operator + public
// notice) and then shut the process down: running with an unreliable store
// risks double-deleting or permanently losing scheduled work.
package deletion
