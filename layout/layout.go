package layout

import (
	"errors"
	"fmt"
)

// MaxDepth bounds the supported tree depth so that node counts and node
// indices fit a uint64. Byte sizes additionally depend on slot widths and
// wrap well before this bound; the storage header checks enforce those.
const MaxDepth = 62

var (
	ErrBadDepth        = errors.New("tree depth must be in the range [1, MaxDepth]")
	ErrIndexOutOfRange = errors.New("leaf position exceeds the leaf count for the tree depth")
)

// CheckDepth returns ErrBadDepth unless 1 <= depth <= MaxDepth.
func CheckDepth(depth uint8) error {
	if depth == 0 || depth > MaxDepth {
		return fmt.Errorf("%w: got %d", ErrBadDepth, depth)
	}
	return nil
}

// NodeCount returns the total node count 2^(depth+1) - 1 for a complete
// binary tree of the given depth.
func NodeCount(depth uint8) uint64 {
	return (uint64(1) << (uint64(depth) + 1)) - 1
}

// LeafCount returns the leaf count 2^depth.
func LeafCount(depth uint8) uint64 {
	return uint64(1) << uint64(depth)
}

// FirstLeaf returns the node index of leaf position 0. The leaves occupy the
// range [FirstLeaf, FirstLeaf+LeafCount).
func FirstLeaf(depth uint8) uint64 {
	return uint64(1) << uint64(depth)
}

// Parent returns the node index of i's parent. Parent(1) is 0, which is not
// a valid node index; the root has no parent.
func Parent(i uint64) uint64 {
	return i >> 1
}

// LeftChild returns the node index of i's left child.
func LeftChild(i uint64) uint64 {
	return i << 1
}

// RightChild returns the node index of i's right child.
func RightChild(i uint64) uint64 {
	return i<<1 + 1
}

// Sibling returns the index of the other child of i's parent. It is not
// defined for the root.
func Sibling(i uint64) uint64 {
	return i ^ 1
}

// IsLeftChild reports whether node i is the left child of its parent. Left
// children always have even indices.
func IsLeftChild(i uint64) bool {
	return i&1 == 0
}

// LeafNode maps the 0 based leaf position pos to its node index 2^depth + pos.
func LeafNode(depth uint8, pos uint64) (uint64, error) {
	if err := CheckDepth(depth); err != nil {
		return 0, err
	}
	if pos >= LeafCount(depth) {
		return 0, fmt.Errorf("%w: position %d, depth %d", ErrIndexOutOfRange, pos, depth)
	}
	return FirstLeaf(depth) + pos, nil
}

// PathStep identifies one level of the walk from a leaf to the root. Node is
// the index of the node on the path at that level, starting with the leaf's
// own node. Sibling is the index of the other child of Node's parent, whose
// value witnesses the step.
type PathStep struct {
	Node    uint64
	Sibling uint64
}

// SiblingIsLeft reports whether the witness value occupies the left side when
// the parent is recomputed at this step.
func (s PathStep) SiblingIsLeft() bool {
	return IsLeftChild(s.Sibling)
}

// PathToRoot returns the bottom up walk for leaf position pos: one step per
// level, from the leaf's own node up to but excluding the root. The returned
// slice always has exactly depth entries.
//
// For depth 2 and pos 2 (node 6) the steps are {6, 7} then {3, 2}: node 7
// witnesses on the right, node 2 witnesses on the left.
func PathToRoot(depth uint8, pos uint64) ([]PathStep, error) {
	i, err := LeafNode(depth, pos)
	if err != nil {
		return nil, err
	}
	path := make([]PathStep, 0, depth)
	for i > 1 {
		path = append(path, PathStep{Node: i, Sibling: Sibling(i)})
		i = Parent(i)
	}
	return path, nil
}
