package vector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeanstalkNetwork/merkle-notes/layout"
	"github.com/BeanstalkNetwork/merkle-notes/merkle"
)

func testLeaves(depth uint8) [][]byte {
	leaves := make([][]byte, layout.LeafCount(depth))
	for i := range leaves {
		leaves[i] = []byte(fmt.Sprintf("leaf-%04d", i))
	}
	return leaves
}

// TestBuildDepth2 pins the worked example: for leaves a, b, c, d the root is
// C(C(H(a), H(b)), C(H(c), H(d))) and the witness for leaf c is H(d) on the
// right then C(H(a), H(b)) on the left.
func TestBuildDepth2(t *testing.T) {
	h := merkle.SHA256Hasher{}
	a, b, c, d := []byte("a"), []byte("b"), []byte("c"), []byte("d")

	tree, err := Build(2, h, [][]byte{a, b, c, d})
	require.NoError(t, err)

	hab := h.Combine(h.HashLeaf(a), h.HashLeaf(b))
	hcd := h.Combine(h.HashLeaf(c), h.HashLeaf(d))
	assert.Equal(t, h.Combine(hab, hcd), tree.Root())

	w, err := tree.Prove(2)
	require.NoError(t, err)
	assert.Equal(t, merkle.Witness{
		Position: 2,
		Payload:  c,
		Path: []merkle.WitnessNode{
			{Side: merkle.SideRight, Hash: h.HashLeaf(d)},
			{Side: merkle.SideLeft, Hash: hab},
		},
	}, w)

	ok, err := merkle.VerifyWitness(h, tree.Root(), 2, w)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildRejectsBadShapes(t *testing.T) {
	h := merkle.SHA256Hasher{}

	_, err := Build(0, h, nil)
	assert.ErrorIs(t, err, layout.ErrBadDepth)

	_, err = Build(2, h, testLeaves(3))
	assert.ErrorIs(t, err, merkle.ErrLeafCount)
}

func TestProveVerifyAllLeaves(t *testing.T) {
	h := merkle.SHA256Hasher{}
	for depth := uint8(1); depth <= 6; depth++ {
		tree, err := Build(depth, h, testLeaves(depth))
		require.NoError(t, err)
		for pos := uint64(0); pos < layout.LeafCount(depth); pos++ {
			w, err := tree.Prove(pos)
			require.NoError(t, err)
			ok, err := merkle.VerifyWitness(h, tree.Root(), depth, w)
			require.NoError(t, err)
			assert.True(t, ok, "depth %d pos %d", depth, pos)
		}
	}
}

func TestSetLeaf(t *testing.T) {
	h := merkle.SHA256Hasher{}
	tree, err := Build(3, h, testLeaves(3))
	require.NoError(t, err)

	oldRoot := tree.Root()
	oldWitness, err := tree.Prove(5)
	require.NoError(t, err)

	require.NoError(t, tree.SetLeaf(5, []byte("replaced")))
	assert.NotEqual(t, oldRoot, tree.Root())

	got, err := tree.GetLeaf(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)

	// the new payload verifies against the new root, the old witness does not
	w, err := tree.Prove(5)
	require.NoError(t, err)
	ok, err := merkle.VerifyWitness(h, tree.Root(), 3, w)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = merkle.VerifyWitness(h, tree.Root(), 3, oldWitness)
	require.NoError(t, err)
	assert.False(t, ok)

	// untouched leaves still verify
	w, err = tree.Prove(2)
	require.NoError(t, err)
	ok, err = merkle.VerifyWitness(h, tree.Root(), 3, w)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetLeafIdempotent(t *testing.T) {
	h := merkle.SHA256Hasher{}
	tree, err := Build(3, h, testLeaves(3))
	require.NoError(t, err)

	require.NoError(t, tree.SetLeaf(1, []byte("same")))
	first := tree.Root()
	require.NoError(t, tree.SetLeaf(1, []byte("same")))
	assert.Equal(t, first, tree.Root())
}

func TestIndexOutOfRange(t *testing.T) {
	tree, err := Build(2, merkle.SHA256Hasher{}, testLeaves(2))
	require.NoError(t, err)

	_, err = tree.GetLeaf(4)
	assert.ErrorIs(t, err, layout.ErrIndexOutOfRange)
	assert.ErrorIs(t, tree.SetLeaf(4, []byte("x")), layout.ErrIndexOutOfRange)
	_, err = tree.Prove(4)
	assert.ErrorIs(t, err, layout.ErrIndexOutOfRange)
}
