package merkle

import "errors"

// Construction errors shared by the tree implementations. Index range
// errors are defined alongside the index arithmetic in package layout.
var (
	// ErrLeafCount is returned when a build is attempted with a leaf set
	// whose size is not exactly 2^depth. Trees are never built partially
	// filled; padding, if wanted, is the caller's policy.
	ErrLeafCount = errors.New("leaf set size does not match the tree leaf count")

	// ErrPayloadSize is returned when leaf payloads do not share the single
	// fixed width a persistent tree records at creation.
	ErrPayloadSize = errors.New("leaf payload width does not match the tree payload width")
)
