// Package vector is a plain in-memory fixed depth merkle tree. It is the
// reference implementation of the merkle.Tree surface: every operation is
// written for obviousness rather than speed, and SetLeaf simply rebuilds the
// whole node table. The production implementation in package mapped is
// checked against this one, the way the original vector backed tree served
// as the oracle for the storage backed ones.
package vector

import (
	"fmt"

	"github.com/BeanstalkNetwork/merkle-notes/layout"
	"github.com/BeanstalkNetwork/merkle-notes/merkle"
)

// Tree is an in-memory complete binary tree of fixed depth. Node hashes live
// in a 1 based level order table; leaf payloads are retained so the tree can
// rehash itself and produce witnesses that carry the payload.
type Tree struct {
	hasher   merkle.Hasher
	depth    uint8
	nodes    [][]byte // index 0 unused
	payloads [][]byte
}

var _ merkle.Tree = (*Tree)(nil)

// Build constructs the tree from a full leaf set of exactly 2^depth
// payloads.
func Build(depth uint8, hasher merkle.Hasher, leaves [][]byte) (*Tree, error) {
	if err := layout.CheckDepth(depth); err != nil {
		return nil, err
	}
	if uint64(len(leaves)) != layout.LeafCount(depth) {
		return nil, fmt.Errorf(
			"%w: got %d leaves, depth %d requires %d",
			merkle.ErrLeafCount, len(leaves), depth, layout.LeafCount(depth))
	}

	t := &Tree{
		hasher:   hasher,
		depth:    depth,
		nodes:    make([][]byte, layout.NodeCount(depth)+1),
		payloads: make([][]byte, len(leaves)),
	}
	for pos, payload := range leaves {
		t.payloads[pos] = append([]byte(nil), payload...)
	}
	t.rehash()
	return t, nil
}

// rehash recomputes every node hash from the current payloads, bottom up.
func (t *Tree) rehash() {
	first := layout.FirstLeaf(t.depth)
	for pos, payload := range t.payloads {
		t.nodes[first+uint64(pos)] = t.hasher.HashLeaf(payload)
	}
	for i := first - 1; i >= 1; i-- {
		t.nodes[i] = t.hasher.Combine(
			t.nodes[layout.LeftChild(i)], t.nodes[layout.RightChild(i)])
	}
}

func (t *Tree) Root() []byte {
	return append([]byte(nil), t.nodes[1]...)
}

func (t *Tree) Depth() uint8 {
	return t.depth
}

func (t *Tree) GetLeaf(pos uint64) ([]byte, error) {
	if pos >= layout.LeafCount(t.depth) {
		return nil, fmt.Errorf(
			"%w: position %d, depth %d", layout.ErrIndexOutOfRange, pos, t.depth)
	}
	return append([]byte(nil), t.payloads[pos]...), nil
}

// SetLeaf replaces the payload at pos and recomputes the whole tree. This is
// the naive O(2^D) oracle path against which the mapped tree's O(D) update
// is checked.
func (t *Tree) SetLeaf(pos uint64, payload []byte) error {
	if pos >= layout.LeafCount(t.depth) {
		return fmt.Errorf(
			"%w: position %d, depth %d", layout.ErrIndexOutOfRange, pos, t.depth)
	}
	t.payloads[pos] = append([]byte(nil), payload...)
	t.rehash()
	return nil
}

func (t *Tree) Prove(pos uint64) (merkle.Witness, error) {
	path, err := layout.PathToRoot(t.depth, pos)
	if err != nil {
		return merkle.Witness{}, err
	}
	w := merkle.Witness{
		Position: pos,
		Payload:  append([]byte(nil), t.payloads[pos]...),
		Path:     make([]merkle.WitnessNode, 0, len(path)),
	}
	for _, step := range path {
		side := merkle.SideRight
		if step.SiblingIsLeft() {
			side = merkle.SideLeft
		}
		w.Path = append(w.Path, merkle.WitnessNode{
			Side: side,
			Hash: append([]byte(nil), t.nodes[step.Sibling]...),
		})
	}
	return w, nil
}
