// Package testutil provides testing utilities, fixtures, and a mock time
// provider for deterministic testing of the keygrant library.
package testutil
