// Package enablement owns the persisted set of enabled modules.
//
// The set is stored as a JSON array of module ids under the enabledModules
// preference key. A missing key means no record yet, and the shell seeds it with
// every registered module on first run. An empty array means the user disabled
// everything, and it is never re-seeded.
//
// Mutations are serialized per Store: one write is in flight at a time and later
// writers wait. A mutation that leaves the set unchanged does not write. Bulk
// operations write once. Readers see either the old set or the new one, never a
// mix of the two.
//
// Load never fails. A corrupt or unreadable record yields an empty set and a
// warning. A failed write keeps the change in memory, marks the store dirty and
// returns an error wrapping ErrPersistence; the next mutation or Flush rewrites
// the full set.
package enablement
