package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// encodeVector stores each component as a little-endian IEEE-754 float64 so
// the vector round-trips bit for bit.
func encodeVector(v types.Vector) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte, n int) (types.Vector, error) {
	if len(b) != 8*n {
		return nil, fmt.Errorf("vector blob is %d bytes, want %d", len(b), 8*n)
	}
	v := make(types.Vector, n)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
