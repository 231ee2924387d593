package merkle

import "crypto/sha256"

// Hasher supplies the hashing capability for a tree. Implementations choose
// the concrete digest; trees never hardcode one. HashLeaf and Combine must be
// deterministic and must each return exactly Size bytes.
//
// The inclusion guarantees of the trees, and of witness verification, are
// only as strong as the collision resistance of the supplied functions.
type Hasher interface {
	// Size returns the fixed width in bytes of every hash this Hasher
	// produces.
	Size() int

	// HashLeaf digests an opaque leaf payload.
	HashLeaf(payload []byte) []byte

	// Combine derives a parent hash from its two children.
	Combine(left, right []byte) []byte
}

// Domain separation prefixes for the stock hasher. Hashing leaves and
// interior nodes into disjoint domains prevents a leaf payload from being
// presented as an interior node (and vice versa) in a forged witness.
const (
	leafHashPrefix = 0
	nodeHashPrefix = 1
)

// SHA256Hasher is a stock Hasher over SHA-256 with leaf/node domain
// separation. Callers with their own digest (or an algebraic hash) supply
// their own Hasher instead.
type SHA256Hasher struct{}

func (SHA256Hasher) Size() int {
	return sha256.Size
}

func (SHA256Hasher) HashLeaf(payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafHashPrefix})
	h.Write(payload)
	return h.Sum(nil)
}

func (SHA256Hasher) Combine(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodeHashPrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
