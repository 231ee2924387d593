package merkle

// Tree is the read/write surface common to every fixed depth merkle tree
// variant. A Tree is created fully populated, by a constructor in the
// implementing package, and is only ever mutated one leaf at a time through
// SetLeaf.
//
// Implementations guarantee that at any observable instant the value returned
// by Root equals the root a full bottom up recomputation over the current
// leaf set would produce. No interior node is left stale once an operation
// returns.
type Tree interface {
	// Root returns the current root hash.
	Root() []byte

	// Depth returns the tree depth fixed at creation. The leaf count is
	// always exactly 2^Depth.
	Depth() uint8

	// GetLeaf returns the payload of the leaf at the 0 based position pos.
	GetLeaf(pos uint64) ([]byte, error)

	// SetLeaf replaces the payload at pos and recomputes the hashes on the
	// path from that leaf to the root.
	SetLeaf(pos uint64, payload []byte) error

	// Prove returns a witness for the leaf at pos against the current root.
	Prove(pos uint64) (Witness, error)
}
