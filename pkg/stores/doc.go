// Package stores provides durable backends for the flowguard orchestrator.
//
// SQLiteStore implements engine.Journal and engine.IdempotencyStore on top of
// SQLite (WAL mode, embedded migrations) and keeps an append-only log of
// published telemetry events. RedisIdempotencyStore shares idempotency
// records between processes using native key expiry.
//
// Cached results read back from either store are json.RawMessage; use
// engine.Do to decode them into a typed result.
package stores
