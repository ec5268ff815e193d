// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments.
//
// Every record is a Valkey hash with two fields: "version", a monotonically
// increasing integer, and "data", the JSON document. Transaction scopes
// remember the version of everything they read and commit through a Lua
// script that re-checks those versions and applies all staged writes in one
// atomic step. Of two scopes racing over the same record exactly one commits;
// the other fails with storage.ErrConflict. The engine relies on this for
// single-use authorization codes and refresh token rotation.
//
// Authorization codes and refresh tokens carry expirations, so their keys get
// a TTL slightly past the domain expiry. The grace window lets the engine
// still answer "expired" rather than "not found" around the boundary.
//
// Refresh token values can be encrypted at rest: set a TokenValueCipher and
// the plaintext value is sealed before the document is written and opened
// again on load.
package valkey
