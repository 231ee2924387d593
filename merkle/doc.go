// Package merkle defines the capability surface shared by all merkle tree
// implementations in this module: the pluggable hashing strategy, the tree
// interface, and the witness (inclusion proof) representation together with
// its verification and wire codec.
//
// Two implementations satisfy the Tree interface. Package vector is a plain
// in-memory tree used as a correctness oracle, and package mapped is the
// production tree backed by a persistent memory mapped slot region.
//
// Verification crosses a trust boundary: a witness that fails to reproduce
// the expected root is an expected outcome, reported as a false result, not
// an error. Errors are reserved for witnesses that are structurally unusable.
package merkle
