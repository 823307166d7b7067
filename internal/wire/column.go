package wire

import "encoding/binary"

// EncodeUint64Slice packs a column of little-endian u64 values into a Value
// byte sequence. The core never interprets this layout; it exists so that
// cmd/ demo drivers can build and read Values without reaching for a full
// data-frame model.
func EncodeUint64Slice(vs []uint64) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(out[i*8:(i+1)*8], v)
	}
	return out
}

// DecodeUint64Slice is the inverse of EncodeUint64Slice.
func DecodeUint64Slice(b []byte) []uint64 {
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8 : (i+1)*8])
	}
	return out
}

// EncodeUint64 packs a single scalar, e.g. a reduction result.
func EncodeUint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
