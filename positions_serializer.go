package blaze

import "encoding/binary"

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION STREAM: Bit-Packed Term-Position Blocks
// ═══════════════════════════════════════════════════════════════════════════════
// Term positions (word offsets within a document) are written BLOCK_LEN at a
// time. Each block is bit-packed to the minimum width that fits every value
// in it - a document mostly using small, locally-clustered offsets ends up
// costing only a few bits per position instead of a full 32-bit word.
//
//	stream: [packed payload][packed payload][packed payload] ...
//	skip:   [num_bits, num_bits, num_bits, ...] ++ [u64 long-skip offsets] ++ [u32 block count]
//
// The width byte lives only in `skip`, never in `stream` - a reader walking
// block-to-block consults `skip` for widths and never touches `stream` until
// it needs the payload itself. Every 1024 blocks, skip also gets a long-skip
// entry recording `stream`'s byte offset at that point, letting a reader
// jump most of the way there in one hop instead of walking every intervening
// block. A trailing 4-byte block count lets a reader split `skip` back into
// its widths and long-skip halves.
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// BlockLen is the number of u32 positions packed into one block.
	BlockLen = 128
	// LongSkipInBlocks is how many blocks separate two long-skip entries.
	LongSkipInBlocks = 1024
	// LongSkipInterval is the number of positions between long-skip entries.
	LongSkipInterval = BlockLen * LongSkipInBlocks
)

// numBitsForBlock returns the smallest width in [0, 32] that fits every
// value in buf.
func numBitsForBlock(buf [BlockLen]uint32) uint8 {
	var maxV uint32
	for _, v := range buf {
		if v > maxV {
			maxV = v
		}
	}
	var bits uint8
	for maxV > 0 {
		bits++
		maxV >>= 1
	}
	return bits
}

// packBlock appends the bit-packed payload for buf at width numBits to dst.
// The payload is always exactly 16*numBits bytes (0 when numBits is 0).
func packBlock(dst []byte, buf [BlockLen]uint32, numBits uint8) []byte {
	if numBits == 0 {
		return dst
	}
	start := len(dst)
	dst = append(dst, make([]byte, 16*int(numBits))...)
	out := dst[start:]

	var bitPos uint32
	for _, v := range buf {
		v &= (uint32(1) << numBits) - 1
		bit := bitPos
		remaining := uint32(numBits)
		for remaining > 0 {
			byteIdx := bit / 8
			bitOff := bit % 8
			space := 8 - bitOff
			take := remaining
			if take > space {
				take = space
			}
			chunk := byte(v) & ((1 << take) - 1)
			out[byteIdx] |= chunk << bitOff
			v >>= take
			bit += take
			remaining -= take
		}
		bitPos += uint32(numBits)
	}
	return dst
}

// unpackBlock decodes a BlockLen-wide bit-packed payload of the given width
// into out.
func unpackBlock(payload []byte, numBits uint8, out *[BlockLen]uint32) {
	if numBits == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	var bitPos uint32
	for i := 0; i < BlockLen; i++ {
		var v uint32
		bit := bitPos
		remaining := uint32(numBits)
		var shift uint32
		for remaining > 0 {
			byteIdx := bit / 8
			bitOff := bit % 8
			space := 8 - bitOff
			take := remaining
			if take > space {
				take = space
			}
			mask := byte((1 << take) - 1)
			chunk := (payload[byteIdx] >> bitOff) & mask
			v |= uint32(chunk) << shift
			shift += take
			bit += take
			remaining -= take
		}
		out[i] = v
		bitPos += uint32(numBits)
	}
}

// PositionSerializer writes a stream of u32 positions into fixed-size,
// bit-packed blocks, emitting a parallel skip stream of per-block widths
// plus periodic long-skip byte offsets. Widths and long-skip entries
// accumulate in separate buffers while writing; Close assembles them into
// the final skip layout, widths first, then the long-skip table, then the
// block-count trailer.
type PositionSerializer struct {
	stream   []byte
	widths   []byte
	longSkip []byte
	skip     []byte

	staging    [BlockLen]uint32
	fillCount  int
	posIdx     uint64
	blockCount uint64
	closed     bool
}

// NewPositionSerializer returns a serializer writing into freshly owned
// buffers.
func NewPositionSerializer() *PositionSerializer {
	return &PositionSerializer{}
}

// PositionsIdx returns the total number of positions accepted so far.
func (ps *PositionSerializer) PositionsIdx() uint64 {
	return ps.posIdx
}

// Write pushes one position value, flushing a full block as a side effect.
func (ps *PositionSerializer) Write(v uint32) {
	ps.staging[ps.fillCount] = v
	ps.fillCount++
	ps.posIdx++
	if ps.fillCount == BlockLen {
		ps.flushBlock()
	}
}

// flushBlock packs the staging buffer straight into stream (no per-block
// header - the width lives in the skip stream, where a reader can consult
// it without touching stream at all) and resets the staging buffer. The
// width byte and any due long-skip entry go into their own buffers; the
// long-skip table must trail every width in the final skip bytes, so the
// two cannot share a buffer while blocks are still being written.
func (ps *PositionSerializer) flushBlock() {
	numBits := numBitsForBlock(ps.staging)
	ps.stream = packBlock(ps.stream, ps.staging, numBits)
	ps.widths = append(ps.widths, byte(numBits))

	ps.blockCount++
	if ps.blockCount%LongSkipInBlocks == 0 {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(ps.stream)))
		ps.longSkip = append(ps.longSkip, tmp[:]...)
	}

	ps.fillCount = 0
	ps.staging = [BlockLen]uint32{}
}

// Close flushes any partially filled trailing block, zero-padded, then
// assembles the final skip bytes: the dense per-block widths, the
// long-skip table, and a little-endian uint32 total block count so a
// reader can recover the widths/long-skip split without inverting the
// length equation. The padding positions are never visible to readers
// because PositionsIdx bounds legal reads.
func (ps *PositionSerializer) Close() {
	if ps.closed {
		return
	}
	ps.closed = true
	if ps.fillCount > 0 {
		ps.flushBlock()
	}
	ps.skip = append(ps.skip, ps.widths...)
	ps.skip = append(ps.skip, ps.longSkip...)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(ps.blockCount))
	ps.skip = append(ps.skip, tmp[:]...)
}

// Stream returns the packed position bytes written so far.
func (ps *PositionSerializer) Stream() []byte {
	return ps.stream
}

// Skip returns the skip bytes (per-block widths, long-skip table, block
// count trailer). Only valid after Close.
func (ps *PositionSerializer) Skip() []byte {
	return ps.skip
}
