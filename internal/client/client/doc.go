// Package client contains the client-side transport to the remote
// authority and the local database bootstrap.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface) with Push and
//     Ping.
//  2. A gRPC implementation (see GRPCClient) that speaks the syncproto JSON
//     codec, stamps the client id and idempotency key into outgoing metadata
//     and maps gRPC status codes to sentinel errors.
//  3. An HTTP implementation (see HTTPClient) for the same endpoint exposed
//     as POST /api/v1/sync.
//  4. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Transport failures match common.ErrNetwork, or common.ErrTimeout when a
// deadline expired, so the sync engine can retry them. Ping reports
// ErrUnavailable when the remote answers but is not healthy.
//
// Concurrency & Contexts
//
// Both clients are safe for concurrent use. All operations accept
// context.Context and honor cancellation and timeouts.
package client
