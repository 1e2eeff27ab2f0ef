package blaze

import "encoding/binary"

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION READER: Random Access Into the Bit-Packed Stream
// ═══════════════════════════════════════════════════════════════════════════════
// Given a position index p, the reader needs to land on block p/128 without
// decoding everything before it. It gets there in two hops:
//
//  1. Long-skip: jump to the byte offset of the nearest long-skip boundary
//     at or before the target block (one table lookup).
//  2. Local walk: from there, step block-by-block using the per-block
//     widths in `skip`, adding 16*num_bits bytes each time, until the
//     target block is reached.
//
// Once positioned, the whole target block is decoded into a 128-entry
// buffer and `in_block_idx` selects where inside it the cursor starts.
// ═══════════════════════════════════════════════════════════════════════════════

// PositionReader provides random access into a position stream produced by
// PositionSerializer.
type PositionReader struct {
	stream []byte
	skip   []byte

	totalBlocks int
	widths      []byte   // skip[0:totalBlocks]
	longSkip    []uint64 // tail table: byte offset in stream of block (i+1)*LongSkipInBlocks

	buffer     [BlockLen]uint32
	curBlockID int
	inBlockIdx int
	decoded    bool
}

// NewPositionReader constructs a reader over stream/skip (as produced by a
// closed PositionSerializer) positioned so the next Read begins at the
// absolute position index offset.
func NewPositionReader(stream, skip []byte, offset uint64) *PositionReader {
	pr := &PositionReader{stream: stream, skip: skip, curBlockID: -1}
	pr.parseSkip()
	pr.seek(offset)
	return pr
}

func (pr *PositionReader) parseSkip() {
	if len(pr.skip) < 4 {
		return
	}
	trailer := pr.skip[len(pr.skip)-4:]
	totalBlocks := int(binary.LittleEndian.Uint32(trailer))
	longSkipCount := totalBlocks / LongSkipInBlocks
	widthsEnd := totalBlocks
	// A corrupt trailer claiming more blocks than the skip bytes can hold is
	// treated as an empty stream rather than sliced out of bounds.
	if widthsEnd+8*longSkipCount+4 > len(pr.skip) {
		return
	}
	pr.totalBlocks = totalBlocks
	pr.widths = pr.skip[:widthsEnd]

	longSkipBytes := pr.skip[widthsEnd : widthsEnd+8*longSkipCount]
	pr.longSkip = make([]uint64, longSkipCount)
	for i := 0; i < longSkipCount; i++ {
		pr.longSkip[i] = binary.LittleEndian.Uint64(longSkipBytes[i*8 : i*8+8])
	}
}

// byteOffsetOfBlock returns stream's byte offset at the start of blockID,
// using the long-skip table to avoid walking from the very beginning.
func (pr *PositionReader) byteOffsetOfBlock(blockID int) uint64 {
	longIdx := blockID / LongSkipInBlocks
	var offset uint64
	startBlock := 0
	if longIdx > 0 {
		offset = pr.longSkip[longIdx-1]
		startBlock = longIdx * LongSkipInBlocks
	}
	for b := startBlock; b < blockID; b++ {
		offset += 16 * uint64(pr.widths[b])
	}
	return offset
}

// decodeBlock decodes blockID into pr.buffer. Reads past the last written
// block are outside the serializer's PositionsIdx contract; they decode as
// zeros rather than running off the backing bytes.
func (pr *PositionReader) decodeBlock(blockID int) {
	if pr.decoded && pr.curBlockID == blockID {
		return
	}
	if blockID >= pr.totalBlocks {
		pr.buffer = [BlockLen]uint32{}
		pr.curBlockID = blockID
		pr.decoded = true
		return
	}
	offset := pr.byteOffsetOfBlock(blockID)
	numBits := pr.widths[blockID]
	payloadLen := 16 * int(numBits)
	payload := pr.stream[offset : offset+uint64(payloadLen)]
	unpackBlock(payload, numBits, &pr.buffer)
	pr.curBlockID = blockID
	pr.decoded = true
}

// seek repositions the cursor at absolute position index p without
// decoding; decoding of the landing block is deferred to the next Read.
func (pr *PositionReader) seek(p uint64) {
	blockID := int(p / BlockLen)
	inBlock := int(p % BlockLen)
	if blockID != pr.curBlockID {
		pr.decoded = false
	}
	pr.curBlockID = blockID
	pr.inBlockIdx = inBlock
}

// Read fills out with consecutive positions starting at the cursor and
// advances the cursor by len(out).
func (pr *PositionReader) Read(out []uint32) {
	i := 0
	for i < len(out) {
		pr.decodeBlock(pr.curBlockID)
		n := copy(out[i:], pr.buffer[pr.inBlockIdx:])
		i += n
		pr.inBlockIdx += n
		if pr.inBlockIdx == BlockLen {
			pr.curBlockID++
			pr.inBlockIdx = 0
			pr.decoded = false
		}
	}
}

// Skip advances the cursor by n positions without materializing values. It
// uses the long-skip table when the jump crosses a long-skip boundary;
// otherwise per-block widths are enough.
func (pr *PositionReader) Skip(n uint64) {
	absolute := uint64(pr.curBlockID)*BlockLen + uint64(pr.inBlockIdx) + n
	pr.seek(absolute)
}
