package merkle

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrWitnessLen      = errors.New("witness path length does not match the tree depth")
	ErrWitnessSide     = errors.New("witness side flag is neither left nor right")
	ErrWitnessHashSize = errors.New("witness hash width does not match the hasher")
)

// Side records which side a witness hash occupies when the parent is
// recomputed during verification.
type Side uint8

const (
	// SideLeft means the witness hash is the left operand of Combine.
	SideLeft Side = iota
	// SideRight means the witness hash is the right operand of Combine.
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// WitnessNode is one level of an inclusion witness: the hash of the sibling
// of the path node at that level, and the side the sibling occupies.
type WitnessNode struct {
	Side Side
	Hash []byte
}

// Witness is an inclusion proof for a single leaf. Path is ordered from the
// leaf's level toward the root and its length always equals the tree depth.
// Together with the payload it is sufficient to recompute the root without
// any other part of the tree.
type Witness struct {
	Position uint64
	Payload  []byte
	Path     []WitnessNode
}

// VerifyWitness checks w against the given root for a tree of the given
// depth. It is static: no live tree instance is required, only the Hasher the
// tree was built with.
//
// A witness whose path length does not match depth is structurally unusable
// and yields ErrWitnessLen. A witness that is well formed but fails to
// reproduce root yields (false, nil); tampering and staleness are expected
// outcomes at a trust boundary, not errors.
func VerifyWitness(hasher Hasher, root []byte, depth uint8, w Witness) (bool, error) {
	if len(w.Path) != int(depth) {
		return false, fmt.Errorf(
			"%w: %d entries for depth %d", ErrWitnessLen, len(w.Path), depth)
	}
	cur := hasher.HashLeaf(w.Payload)
	for _, n := range w.Path {
		if n.Side == SideLeft {
			cur = hasher.Combine(n.Hash, cur)
		} else {
			cur = hasher.Combine(cur, n.Hash)
		}
	}
	return bytes.Equal(cur, root), nil
}
