// Package slots owns the persistent byte region backing a fixed depth merkle
// tree. The region is a single file of fixed size, memory mapped for access,
// laid out as a small fixed header followed by one aligned fixed width slot
// per tree node and one fixed width payload slot per leaf.
//
// All byte offsets are computed by the pure functions in format.go; nothing
// outside this package touches raw region bytes.
//
// Durability follows the staged commit discipline: every slot affected by an
// operation is written and synced before the root slot in the header region
// is updated, and the root slot is always the final write. A reader that
// observes a given root value is therefore guaranteed that every slot
// supporting that root is fully written. This holds across crashes on the
// assumption that the platform never tears a single aligned slot write; no
// write ahead log is kept.
package slots
