// Package sync replays queued local mutations against the remote system of record.
//
// # Processor
//
// Processor handles one queue entry at a time:
//
//   - claim: the entry is moved to processing through Store.UpdateEntryAtomically,
//     and only if it is still pending or a due, retryable failure. Two passes never
//     replay the same entry.
//   - apply: the remote.Applier is called inside retry.Execute. Transient failures
//     (network, timeout, 5xx, 429) are retried in-pass with backoff.
//   - conflict routing: when the remote reports divergence the conflict.Resolver
//     decides. use_remote discards the local change, use_local and merge push the
//     resolved data with an overwrite, and an unresolved conflict parks the entry.
//   - finalize: the entry is marked completed or failed. A failed entry records the
//     earliest time automatic retry may pick it up again.
//
// # Errors
//
//   - OfflineError: a pass was requested while the remote is unreachable
//   - ConcurrencyLimitError: too many passes are already running
//   - Error: why a single entry failed, with a machine readable Reason
//
// The sync/orchestrator subpackage schedules passes and owns the lifecycle.
package sync
