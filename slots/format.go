package slots

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/google/uuid"

	"github.com/BeanstalkNetwork/merkle-notes/layout"
)

// The region begins with a fixed 64 byte header record. All multi byte fields
// are big endian.
//
// .     | magic | version | depth | flags | hash size | payload size | leaf count | tree id | reserved |
// .     | 0 - 3 | 4 - 5   | 6     | 7     | 8 - 11    | 12 - 15      | 16 - 23    | 24 - 39 | 40 - 63  |
// bytes |   4   |    2    |   1   |   1   |     4     |      4       |      8     |   16    |    24    |
//
// The header record is followed by the root slot, then the node region of
// exactly NodeCount(depth) hash slots in 1 based level order, then the leaf
// payload region of LeafCount(depth) payload slots. The root slot and the
// node region are aligned up to a multiple of the hash size so every hash
// slot write lands on a slot aligned boundary.
const (
	FixedHeaderBytes = 64

	headerMagicFirstByte       = 0
	headerVersionFirstByte     = 4
	headerDepthByte            = 6
	headerFlagsByte            = 7
	headerHashSizeFirstByte    = 8
	headerPayloadSizeFirstByte = 12
	headerLeafCountFirstByte   = 16
	headerTreeIDFirstByte      = 24
	headerTreeIDEnd            = 40

	CurrentVersion = uint16(1)

	// MinHashSize and MaxHashSize bound the slot width. The upper bound keeps
	// the root slot within a single aligned cache line sized unit, which is
	// what makes the atomic commit assumption credible on common hardware.
	MinHashSize = 8
	MaxHashSize = 64

	// MaxPayloadBytes bounds the leaf payload slot width.
	MaxPayloadBytes = 1 << 20
)

// Magic identifies a merkle-notes slot region file.
var Magic = [4]byte{'m', 'k', 'n', 't'}

var (
	ErrBadMagic       = errors.New("the file does not start with the region magic")
	ErrHeaderVersion  = errors.New("unsupported region format version")
	ErrHeaderTooSmall = errors.New("too few bytes to hold a region header")
	ErrHashSizeRange  = errors.New("hash size outside the supported slot width range")
	ErrPayloadRange   = errors.New("payload size outside the supported range")
	ErrLeafCount      = errors.New("leaf count inconsistent with the tree depth")
	ErrRegionSize     = errors.New("region byte size not addressable")
)

// Header is the decoded form of the fixed header record. It fully determines
// the region geometry; everything else about the file is derived from it.
type Header struct {
	Version     uint16
	Depth       uint8
	HashSize    uint32
	PayloadSize uint32
	LeafCount   uint64
	TreeID      uuid.UUID
}

// NewHeader returns a header for a fresh region with a newly rolled tree id.
func NewHeader(depth uint8, hashSize, payloadSize uint32) Header {
	return Header{
		Version:     CurrentVersion,
		Depth:       depth,
		HashSize:    hashSize,
		PayloadSize: payloadSize,
		LeafCount:   layout.LeafCount(depth),
		TreeID:      uuid.New(),
	}
}

// Check validates the header fields against each other. A mismatch means the
// file is not a region this code can safely interpret.
func (h Header) Check() error {
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: got %d, support %d", ErrHeaderVersion, h.Version, CurrentVersion)
	}
	if err := layout.CheckDepth(h.Depth); err != nil {
		return err
	}
	if h.HashSize < MinHashSize || h.HashSize > MaxHashSize {
		return fmt.Errorf("%w: got %d", ErrHashSizeRange, h.HashSize)
	}
	if h.PayloadSize == 0 || h.PayloadSize > MaxPayloadBytes {
		return fmt.Errorf("%w: got %d", ErrPayloadRange, h.PayloadSize)
	}
	if h.LeafCount != layout.LeafCount(h.Depth) {
		return fmt.Errorf(
			"%w: header says %d, depth %d requires %d",
			ErrLeafCount, h.LeafCount, h.Depth, layout.LeafCount(h.Depth))
	}
	if _, err := checkedRegionSize(h); err != nil {
		return err
	}
	return nil
}

// checkedRegionSize computes the byte size of the backing region for h,
// failing with ErrRegionSize if the arithmetic would wrap a uint64 or exceed
// what a file offset can address. Depth and the slot widths are individually
// in range long before their product is: the node region of a depth 58 tree
// of 64 byte slots already exceeds what a uint64 byte count can hold. A
// header rejected here describes a region no file can back,
// so slot offsets computed from it would point past any mapping.
func checkedRegionSize(h Header) (uint64, error) {
	hi, nodeBytes := bits.Mul64(layout.NodeCount(h.Depth), uint64(h.HashSize))
	if hi != 0 {
		return 0, fmt.Errorf(
			"%w: node region wraps at depth %d, hash size %d", ErrRegionSize, h.Depth, h.HashSize)
	}
	hi, payloadBytes := bits.Mul64(h.LeafCount, uint64(h.PayloadSize))
	if hi != 0 {
		return 0, fmt.Errorf(
			"%w: payload region wraps at depth %d, payload size %d", ErrRegionSize, h.Depth, h.PayloadSize)
	}
	size, c1 := bits.Add64(NodeRegionStart(h.HashSize), nodeBytes, 0)
	size, c2 := bits.Add64(size, payloadBytes, 0)
	if c1 != 0 || c2 != 0 || size > math.MaxInt64 {
		return 0, fmt.Errorf(
			"%w: %d node bytes plus %d payload bytes", ErrRegionSize, nodeBytes, payloadBytes)
	}
	return size, nil
}

func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.Check(); err != nil {
		return nil, err
	}
	b := make([]byte, FixedHeaderBytes)
	copy(b[headerMagicFirstByte:], Magic[:])
	binary.BigEndian.PutUint16(b[headerVersionFirstByte:], h.Version)
	b[headerDepthByte] = h.Depth
	// flags byte reserved, zero in version 1
	binary.BigEndian.PutUint32(b[headerHashSizeFirstByte:], h.HashSize)
	binary.BigEndian.PutUint32(b[headerPayloadSizeFirstByte:], h.PayloadSize)
	binary.BigEndian.PutUint64(b[headerLeafCountFirstByte:], h.LeafCount)
	copy(b[headerTreeIDFirstByte:headerTreeIDEnd], h.TreeID[:])
	return b, nil
}

func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < FixedHeaderBytes {
		return fmt.Errorf("%w: got %d bytes", ErrHeaderTooSmall, len(b))
	}
	if [4]byte(b[headerMagicFirstByte:headerVersionFirstByte]) != Magic {
		return ErrBadMagic
	}
	h.Version = binary.BigEndian.Uint16(b[headerVersionFirstByte:])
	h.Depth = b[headerDepthByte]
	h.HashSize = binary.BigEndian.Uint32(b[headerHashSizeFirstByte:])
	h.PayloadSize = binary.BigEndian.Uint32(b[headerPayloadSizeFirstByte:])
	h.LeafCount = binary.BigEndian.Uint64(b[headerLeafCountFirstByte:])
	copy(h.TreeID[:], b[headerTreeIDFirstByte:headerTreeIDEnd])
	return h.Check()
}

// alignUp rounds n up to the next multiple of m.
func alignUp(n uint64, m uint32) uint64 {
	r := n % uint64(m)
	if r == 0 {
		return n
	}
	return n + uint64(m) - r
}

// RootSlotOffset returns the byte offset of the root slot, the first hash
// size aligned slot after the fixed header record.
func RootSlotOffset(hashSize uint32) uint64 {
	return alignUp(FixedHeaderBytes, hashSize)
}

// NodeRegionStart returns the byte offset of node 1's slot.
func NodeRegionStart(hashSize uint32) uint64 {
	return RootSlotOffset(hashSize) + uint64(hashSize)
}

// NodeSlotOffset returns the byte offset of the slot for the 1 based level
// order node index i. No range checks are performed here; the region methods
// check before calling.
func NodeSlotOffset(hashSize uint32, i uint64) uint64 {
	return NodeRegionStart(hashSize) + (i-1)*uint64(hashSize)
}

// PayloadRegionStart returns the byte offset of leaf position 0's payload
// slot, immediately after the node region.
func PayloadRegionStart(depth uint8, hashSize uint32) uint64 {
	return NodeRegionStart(hashSize) + layout.NodeCount(depth)*uint64(hashSize)
}

// PayloadSlotOffset returns the byte offset of the payload slot for the 0
// based leaf position pos.
func PayloadSlotOffset(depth uint8, hashSize, payloadSize uint32, pos uint64) uint64 {
	return PayloadRegionStart(depth, hashSize) + pos*uint64(payloadSize)
}

// RegionSize returns the exact byte size of the backing file for a region
// with the given header. The file is pre-allocated at this size on creation
// and never grows. Check rejects headers whose size arithmetic would wrap,
// so for a checked header the computation below is exact.
func RegionSize(h Header) uint64 {
	return PayloadRegionStart(h.Depth, h.HashSize) + h.LeafCount*uint64(h.PayloadSize)
}
