// Package device provides the per-device session registry for WSM Core.
//
// Every vending device the core hears from gets a Session: an in-memory
// record of its latest reports (settings, config, state, display), the
// acknowledgment slot for each command kind, and the request_id carried
// between exchanges. The registry is the fast path for API reads; the
// store package keeps the durable history.
//
// # Key Types
//
//   - Registry: Thread-safe map of device ID to Session
//   - Session: Per-device working state with its own mutex
//   - Snapshot: One report of a given kind with its freshness anchor
//   - AckRecord: The latest acknowledgment for one command kind
//
// # Freshness
//
// A snapshot or ack is usable only within FreshnessWindow (60s) of
// receipt. Dispatching a new get/set command for a domain clears the
// matching ack slot and invalidates the snapshot, so a poll can never
// be satisfied by data that predates the command.
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	sess := registry.GetOrCreate("wsm-0042")
//	sess.SetState(payload, requestID, time.Now())
//
//	snap := sess.State()
//	if !snap.Fresh(time.Now()) {
//	    // re-request from the device
//	}
//
// # Thread Safety
//
// The Registry and all Session methods are safe for concurrent use.
// Snapshots returned to callers are copies.
package device
