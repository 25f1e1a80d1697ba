// Package core contains the synchronization engine's domain model,
// store and connector contracts, and reconciliation logic. Lower-level
// adapters must depend on this package; core must not depend on
// connector-specific or transport-specific adapters.
package core
