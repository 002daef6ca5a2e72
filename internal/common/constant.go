// Package common contains shared constants and sentinel errors used across
// gardenkeeper components.
package common

// ClientIDHeaderName is the gRPC/HTTP metadata key used to carry the
// originating client id on outbound sync requests.
const ClientIDHeaderName = "x-client-id"

// IdempotencyHeaderName carries the idempotency key of a push.
const IdempotencyHeaderName = "x-idempotency-key"
