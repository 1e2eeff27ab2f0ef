package blaze

// ═══════════════════════════════════════════════════════════════════════════════
// CHECKPOINT & BLOCK: The Skip Index's Atomic Units
// ═══════════════════════════════════════════════════════════════════════════════
// A Checkpoint records the byte range of one compressed document block:
//
//	Checkpoint{first_doc: 5, last_doc: 9, start_offset: 100, end_offset: 142}
//
// means "documents 5 through 9 live in bytes [100, 142) of the document
// body stream". Checkpoints arrive in increasing, gap-free order: the next
// one always starts where the previous one's doc range and byte range left
// off (first_doc == prev.last_doc+1, start_offset == prev.end_offset).
//
// A Block batches up to PERIOD checkpoints and serializes them with delta
// coding: only the very first doc id is written in full, every later field
// is a varint *difference* from its predecessor. That's what keeps the skip
// index small even for segments with billions of documents.
// ═══════════════════════════════════════════════════════════════════════════════

// PERIOD is the skip index fanout: how many checkpoints live in one Block
// before a skip pointer is promoted to the next layer up.
const PERIOD = 8

// Checkpoint is the unit the skip index stores and the store reader
// ultimately consumes: an inclusive document range and the half-open byte
// range of its compressed block.
type Checkpoint struct {
	FirstDoc    uint32
	LastDoc     uint32
	StartOffset uint64
	EndOffset   uint64
}

// Block is an in-memory, ordered run of up to PERIOD checkpoints.
type Block struct {
	checkpoints []Checkpoint
}

// NewBlock returns an empty Block ready to accept up to PERIOD checkpoints.
func NewBlock() *Block {
	return &Block{checkpoints: make([]Checkpoint, 0, PERIOD)}
}

// Push appends a checkpoint.
func (b *Block) Push(cp Checkpoint) {
	b.checkpoints = append(b.checkpoints, cp)
}

// Len returns the number of checkpoints currently held.
func (b *Block) Len() int {
	return len(b.checkpoints)
}

// Get returns the checkpoint at idx.
func (b *Block) Get(idx int) Checkpoint {
	return b.checkpoints[idx]
}

// Clear empties the block without releasing its backing array.
func (b *Block) Clear() {
	b.checkpoints = b.checkpoints[:0]
}

// Last returns the LastDoc of the block's final checkpoint, the upper end of
// the doc range the block covers. ok is false for an empty block.
func (b *Block) Last() (lastDoc uint32, ok bool) {
	if len(b.checkpoints) == 0 {
		return 0, false
	}
	return b.checkpoints[len(b.checkpoints)-1].LastDoc, true
}

// FirstDoc returns the first checkpoint's FirstDoc. ok is false if empty.
func (b *Block) FirstDoc() (uint32, bool) {
	if len(b.checkpoints) == 0 {
		return 0, false
	}
	return b.checkpoints[0].FirstDoc, true
}

// Serialize appends the block's on-disk form to buf and returns the
// extended slice:
//
//	[varint len]
//	if len == 0: done
//	[varint checkpoints[0].FirstDoc]
//	for each checkpoint: [varint doc_count][varint byte_len]
func (b *Block) Serialize(buf []byte) []byte {
	buf = putVarint(buf, uint64(len(b.checkpoints)))
	if len(b.checkpoints) == 0 {
		return buf
	}
	buf = putVarint(buf, uint64(b.checkpoints[0].FirstDoc))
	for _, cp := range b.checkpoints {
		docCount := cp.LastDoc - cp.FirstDoc + 1
		byteLen := cp.EndOffset - cp.StartOffset
		buf = putVarint(buf, uint64(docCount))
		buf = putVarint(buf, byteLen)
	}
	return buf
}

// Deserialize clears b and hydrates it from the front of c, advancing the
// cursor past exactly the bytes it consumed. It fails with ErrTruncated on
// empty or short input.
func (b *Block) Deserialize(c *cursor) error {
	if c.empty() {
		return ErrTruncated
	}
	b.Clear()
	n, err := c.readVarint()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	doc, err := c.readVarint()
	if err != nil {
		return err
	}
	docID := uint32(doc)
	var offset uint64
	for i := uint64(0); i < n; i++ {
		numDocs, err := c.readVarint()
		if err != nil {
			return err
		}
		numBytes, err := c.readVarint()
		if err != nil {
			return err
		}
		b.checkpoints = append(b.checkpoints, Checkpoint{
			FirstDoc:    docID,
			LastDoc:     docID + uint32(numDocs) - 1,
			StartOffset: offset,
			EndOffset:   offset + numBytes,
		})
		docID += uint32(numDocs)
		offset += numBytes
	}
	return nil
}
