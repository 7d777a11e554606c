// Package api implements the HTTP REST API for WSM Core.
//
// This package provides:
//   - Cached device reads (state, settings, config, display) with a
//     freshness window: values older than a minute return 404 and must
//     be re-requested from the device
//   - Command endpoints that dispatch over MQTT and report acceptance,
//     with separate ack-poll endpoints for the device's reply
//   - Sale, collection and payment history with ack resend
//   - The payment provider webhook that credits a device after an
//     online payment
//   - Middleware stack (request ID, logging, recovery, CORS, body
//     limit, JWT bearer auth)
//
// Reads are two-tier: the in-memory session cache first, then the
// latest stored row, both gated by the same freshness window. Command
// endpoints return 202: MQTT commands are fire-and-forget and the
// result arrives later as an ack.
//
// Tokens are issued by external operator tooling; the server validates
// signature and role only. Destructive routes (config update, reboot,
// provider keys, ack resend) require the admin role.
package api
