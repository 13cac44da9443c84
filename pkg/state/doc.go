// Package state defines persistence-facing contracts for loading and saving
// per-scope snapshots of a search form (saved searches), plus a small
// resolver that merges several scopes into one effective snapshot.
//
// Responsibilities:
//   - Store[T] only loads/saves a single snapshot for a single Ref.
//   - Resolver[T] loads snapshots for multiple scopes and merges them with
//     layering.MergeLayers, strongest scope first.
//   - TraceKey reports which scope contributed a key of a keyed snapshot.
//
// Data flow:
//
//	Store -> Resolver -> layering.MergeLayers(...) -> Resolved[T]
//
// Deterministic keys:
//
//	Ref.Identifier() provides a canonical storage key format based on the
//	`system/tenant/org/team/user` scope names. MemoryStore and BoltStore both
//	key records by it.
package state
