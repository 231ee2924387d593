// Package mapped is the production fixed depth merkle tree, backed by the
// persistent slot region in package slots. Building writes every leaf and
// interior slot exactly once; updating a leaf rewrites only the O(depth)
// slots on its path to the root; proving reads along a path and writes
// nothing. Every mutating operation ends by publishing its root through the
// region's staged commit, so an interruption at any earlier point leaves the
// previously committed tree fully intact.
package mapped

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BeanstalkNetwork/merkle-notes/layout"
	"github.com/BeanstalkNetwork/merkle-notes/merkle"
	"github.com/BeanstalkNetwork/merkle-notes/slots"
)

var ErrHasherMismatch = errors.New("hasher width does not match the region header")

// Tree is a fixed depth merkle tree over a memory mapped slot region. It is
// safe for concurrent use; writers are serialized by the region's scoped
// write lock.
type Tree struct {
	hasher merkle.Hasher
	region *slots.Region
	depth  uint8
	log    *zap.Logger
}

var _ merkle.Tree = (*Tree)(nil)

type config struct {
	log *zap.Logger
}

// Option configures Build and Open.
type Option func(*config)

// WithLogger attaches a structured logger to the tree and its region. The
// default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

func newConfig(opts []Option) config {
	c := config{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Build creates the region file at path and populates it from a full leaf
// set of exactly 2^depth payloads, all of one width. The leaf hashes are
// written first, then each interior level from the deepest up, 2^depth - 1
// combines in total, and finally the root is committed. Build is one shot:
// the path must not already exist.
func Build(
	path string, depth uint8, hasher merkle.Hasher, leaves [][]byte, opts ...Option,
) (*Tree, error) {

	cfg := newConfig(opts)

	if err := layout.CheckDepth(depth); err != nil {
		return nil, err
	}
	if uint64(len(leaves)) != layout.LeafCount(depth) {
		return nil, fmt.Errorf(
			"%w: got %d leaves, depth %d requires %d",
			merkle.ErrLeafCount, len(leaves), depth, layout.LeafCount(depth))
	}
	payloadSize := len(leaves[0])
	for pos, payload := range leaves {
		if len(payload) != payloadSize {
			return nil, fmt.Errorf(
				"%w: leaf %d has %d bytes, leaf 0 has %d",
				merkle.ErrPayloadSize, pos, len(payload), payloadSize)
		}
	}

	hdr := slots.NewHeader(depth, uint32(hasher.Size()), uint32(payloadSize))
	region, err := slots.Create(path, hdr, slots.WithLogger(cfg.log))
	if err != nil {
		return nil, err
	}

	t := &Tree{hasher: hasher, region: region, depth: depth, log: cfg.log}
	if err = t.build(leaves); err != nil {
		region.Close()
		// builds are one shot, leaving the file would block a retry
		os.Remove(path)
		return nil, err
	}

	t.log.Info("built mapped tree",
		zap.String("path", path),
		zap.Uint8("depth", depth),
		zap.String("treeID", hdr.TreeID.String()))
	return t, nil
}

func (t *Tree) build(leaves [][]byte) error {
	w := t.region.BeginWrite()
	defer w.Release()

	firstLeaf := layout.FirstLeaf(t.depth)
	for pos, payload := range leaves {
		if err := w.PutPayload(uint64(pos), payload); err != nil {
			return err
		}
		if err := w.PutNode(firstLeaf+uint64(pos), t.hasher.HashLeaf(payload)); err != nil {
			return err
		}
	}

	// interior levels, deepest first, finishing with node 1
	for i := firstLeaf - 1; i >= 1; i-- {
		left, err := w.Node(layout.LeftChild(i))
		if err != nil {
			return err
		}
		right, err := w.Node(layout.RightChild(i))
		if err != nil {
			return err
		}
		if err = w.PutNode(i, t.hasher.Combine(left, right)); err != nil {
			return err
		}
	}

	root, err := w.Node(1)
	if err != nil {
		return err
	}
	return w.CommitRoot(root)
}

// Open maps an existing tree region. The persisted root is authoritative;
// nothing is recomputed. The supplied hasher must produce hashes of the
// width recorded in the header.
func Open(path string, hasher merkle.Hasher, opts ...Option) (*Tree, error) {
	cfg := newConfig(opts)

	region, err := slots.Open(path, slots.WithLogger(cfg.log))
	if err != nil {
		return nil, err
	}
	hdr := region.Header()
	if uint32(hasher.Size()) != hdr.HashSize {
		region.Close()
		return nil, fmt.Errorf(
			"%w: hasher is %d bytes, region slots are %d",
			ErrHasherMismatch, hasher.Size(), hdr.HashSize)
	}
	return &Tree{hasher: hasher, region: region, depth: hdr.Depth, log: cfg.log}, nil
}

// Root returns the most recently committed root hash.
func (t *Tree) Root() []byte {
	return t.region.Root()
}

// Depth returns the tree depth fixed at creation.
func (t *Tree) Depth() uint8 {
	return t.depth
}

// ID returns the tree identity rolled at creation and persisted in the
// region header.
func (t *Tree) ID() uuid.UUID {
	return t.region.Header().TreeID
}

// GetLeaf returns the payload of the leaf at pos.
func (t *Tree) GetLeaf(pos uint64) ([]byte, error) {
	if pos >= layout.LeafCount(t.depth) {
		return nil, fmt.Errorf(
			"%w: position %d, depth %d", layout.ErrIndexOutOfRange, pos, t.depth)
	}
	return t.region.Payload(pos)
}

// SetLeaf replaces the payload at pos, recomputes the depth ancestors on the
// path to the root and commits the new root. The whole operation runs under
// one scoped write region and costs O(depth) combines and slot writes.
func (t *Tree) SetLeaf(pos uint64, payload []byte) error {
	path, err := layout.PathToRoot(t.depth, pos)
	if err != nil {
		return err
	}
	if uint32(len(payload)) != t.region.Header().PayloadSize {
		return fmt.Errorf(
			"%w: got %d bytes, tree payload width is %d",
			merkle.ErrPayloadSize, len(payload), t.region.Header().PayloadSize)
	}

	w := t.region.BeginWrite()
	defer w.Release()

	if err = w.PutPayload(pos, payload); err != nil {
		return err
	}
	if err = w.PutNode(path[0].Node, t.hasher.HashLeaf(payload)); err != nil {
		return err
	}

	var root []byte
	for _, step := range path {
		parent := layout.Parent(step.Node)
		left, err := w.Node(layout.LeftChild(parent))
		if err != nil {
			return err
		}
		right, err := w.Node(layout.RightChild(parent))
		if err != nil {
			return err
		}
		root = t.hasher.Combine(left, right)
		if err = w.PutNode(parent, root); err != nil {
			return err
		}
	}
	return w.CommitRoot(root)
}

// Prove returns a witness for the leaf at pos against the current root. It
// reads the payload and the depth sibling slots along the path in a single
// read scope and mutates nothing. The scope matters: slots read piecemeal
// could straddle a concurrent update's commit and yield a witness consistent
// with no committed root at all.
func (t *Tree) Prove(pos uint64) (merkle.Witness, error) {
	w, _, err := t.prove(pos)
	return w, err
}

// prove additionally returns the root committed at the instant the witness
// slots were read, from the same read scope.
func (t *Tree) prove(pos uint64) (merkle.Witness, []byte, error) {
	path, err := layout.PathToRoot(t.depth, pos)
	if err != nil {
		return merkle.Witness{}, nil, err
	}

	rd := t.region.BeginRead()
	defer rd.Release()

	payload, err := rd.Payload(pos)
	if err != nil {
		return merkle.Witness{}, nil, err
	}
	w := merkle.Witness{
		Position: pos,
		Payload:  payload,
		Path:     make([]merkle.WitnessNode, 0, len(path)),
	}
	for _, step := range path {
		sibling, err := rd.Node(step.Sibling)
		if err != nil {
			return merkle.Witness{}, nil, err
		}
		side := merkle.SideRight
		if step.SiblingIsLeft() {
			side = merkle.SideLeft
		}
		w.Path = append(w.Path, merkle.WitnessNode{Side: side, Hash: sibling})
	}
	root, err := rd.Root()
	if err != nil {
		return merkle.Witness{}, nil, err
	}
	return w, root, nil
}

// Close flushes and releases the region. The persisted tree is unaffected
// and can be reopened.
func (t *Tree) Close() error {
	return t.region.Close()
}
