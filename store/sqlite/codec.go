package sqlite

import (
	"encoding/binary"
	"math"
)

// vectorToBytes converts a float32 slice to a little-endian blob.
func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// bytesToVector converts a little-endian blob back to float32s.
func bytesToVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
