package blaze

import "errors"

// ═══════════════════════════════════════════════════════════════════════════════
// VARINT CODEC: Compact Variable-Width Integers
// ═══════════════════════════════════════════════════════════════════════════════
// Every checkpoint, doc-count delta, and byte-length delta in the skip index
// is stored as a little-endian base-128 varint: 7 data bits per byte, with
// the high bit set on every byte except the last.
//
// EXAMPLE:
// --------
//
//	300 = 0b1_0010_1100
//	low 7 bits:  0101100 -> byte 0xAC (high bit set, more bytes follow)
//	next 7 bits: 0000010 -> byte 0x02 (high bit clear, done)
//	encoded: [0xAC, 0x02]
//
// A varint-prefixed sequence (used by Block and the skip-index header) is
// just a varint giving the element count, followed by the elements.
// ═══════════════════════════════════════════════════════════════════════════════

// ErrTruncated is returned when a varint or Block can't be fully read from
// the remaining bytes.
var ErrTruncated = errors.New("blaze: truncated input")

// putVarint appends v to buf as a little-endian base-128 varint and returns
// the extended slice.
func putVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// getVarint decodes a varint from the front of data, returning the value and
// the number of bytes consumed. It fails with ErrTruncated if data ends
// before a terminator byte (high bit clear) is found.
func getVarint(data []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range data {
		if shift >= 64 {
			return 0, 0, ErrTruncated
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrTruncated
}

// cursor walks a byte slice forward, consuming varints and raw bytes. The
// skip index's read path and the sealed-format readers in serialization.go,
// termstore.go and document.go all read through it.
type cursor struct {
	data []byte
}

func (c *cursor) empty() bool {
	return len(c.data) == 0
}

func (c *cursor) len() int {
	return len(c.data)
}

// readVarint advances the cursor past one varint and returns its value.
func (c *cursor) readVarint() (uint64, error) {
	v, n, err := getVarint(c.data)
	if err != nil {
		return 0, err
	}
	c.data = c.data[n:]
	return v, nil
}

// readBytes advances the cursor past n raw bytes and returns them.
func (c *cursor) readBytes(n int) ([]byte, error) {
	if n > len(c.data) {
		return nil, ErrTruncated
	}
	b := c.data[:n]
	c.data = c.data[n:]
	return b, nil
}

// putVarintSlice serializes a varint-prefixed sequence of uint64 values:
// [varint len][varint v0][varint v1]...
func putVarintSlice(buf []byte, vals []uint64) []byte {
	buf = putVarint(buf, uint64(len(vals)))
	for _, v := range vals {
		buf = putVarint(buf, v)
	}
	return buf
}

// getVarintSlice is the inverse of putVarintSlice.
func getVarintSlice(c *cursor) ([]uint64, error) {
	n, err := c.readVarint()
	if err != nil {
		return nil, err
	}
	vals := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}
