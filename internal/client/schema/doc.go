// Package schema owns record construction and validation.
//
// A Registry knows one Schema per entity type. Field constraints live as
// go-playground/validator tags on the model structs; the registry adds
// named regexp patterns, cross-field rules, default values, unknown-field
// rejection and the lazy schema-version migration table.
//
// Everything here is pure and synchronous: no storage or network I/O.
package schema
