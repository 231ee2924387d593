package merkle

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrWitnessDecode = errors.New("witness wire decoding failed")

// Witness wire representation. Integer keys keep the encoding compact and
// stable across field renames.
type witnessNodeWire struct {
	Side uint8  `cbor:"1,keyasint"`
	Hash []byte `cbor:"2,keyasint"`
}

type witnessWire struct {
	Position uint64            `cbor:"1,keyasint"`
	Payload  []byte            `cbor:"2,keyasint"`
	Path     []witnessNodeWire `cbor:"3,keyasint"`
}

// MarshalWitness encodes w for transport.
func MarshalWitness(w Witness) ([]byte, error) {
	ww := witnessWire{
		Position: w.Position,
		Payload:  w.Payload,
		Path:     make([]witnessNodeWire, 0, len(w.Path)),
	}
	for _, n := range w.Path {
		ww.Path = append(ww.Path, witnessNodeWire{Side: uint8(n.Side), Hash: n.Hash})
	}
	return cbor.Marshal(&ww)
}

// UnmarshalWitness decodes a wire witness, checking every path hash against
// the width of the hasher it will be verified with. Witnesses arrive from
// across a trust boundary so the shape is validated here; whether the hashes
// are truthful is VerifyWitness's business.
func UnmarshalWitness(data []byte, hasher Hasher) (Witness, error) {
	var ww witnessWire
	if err := cbor.Unmarshal(data, &ww); err != nil {
		return Witness{}, fmt.Errorf("%w: %v", ErrWitnessDecode, err)
	}
	w := Witness{
		Position: ww.Position,
		Payload:  ww.Payload,
		Path:     make([]WitnessNode, 0, len(ww.Path)),
	}
	for i, n := range ww.Path {
		if n.Side > uint8(SideRight) {
			return Witness{}, fmt.Errorf("%w: entry %d has flag %d", ErrWitnessSide, i, n.Side)
		}
		if len(n.Hash) != hasher.Size() {
			return Witness{}, fmt.Errorf(
				"%w: entry %d has %d bytes, want %d", ErrWitnessHashSize, i, len(n.Hash), hasher.Size())
		}
		w.Path = append(w.Path, WitnessNode{Side: Side(n.Side), Hash: n.Hash})
	}
	return w, nil
}
