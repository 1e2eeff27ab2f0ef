package blaze

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/s2"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DOCUMENT STORE: Compressed Blocks + Skip Index, on One Memory-Mapped File
// ═══════════════════════════════════════════════════════════════════════════════
// Something has to actually produce the contiguous byte region the skip
// index and position streams read from, compress/decompress the document
// blocks it points into, and split the trailer off an mmap'd file. This is
// that layer.
//
// FILE LAYOUT:
//
//	[compressed_block_0][compressed_block_1]...[skip_index_bytes][u64 LE trailer]
//
// The trailer holds the byte offset, within the file, where skip_index_bytes
// begins - so a reader can split the file in one slice without scanning it.
// ═══════════════════════════════════════════════════════════════════════════════

// storeBlockSize is the uncompressed size (in bytes of serialized documents)
// at which StoreWriter flushes a new compressed block.
const storeBlockSize = 16 * 1024

// trailerSize is the fixed width of the file's final offset field.
const trailerSize = 8

// ErrDocNotFound is returned by StoreReader.Get when no indexed checkpoint
// covers doc_id (it lies past the last one or before the first one).
var ErrDocNotFound = errors.New("blaze: document id not found in store")

// MappedFile is a read-only, memory-mapped byte region backing a StoreReader.
// Multiple readers may share one MappedFile; none of them mutate it.
type MappedFile struct {
	f *os.File
	m mmap.MMap
}

// OpenMappedFile memory-maps path read-only.
func OpenMappedFile(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MappedFile{f: f, m: m}, nil
}

// Bytes returns the mapped region.
func (mf *MappedFile) Bytes() []byte {
	return mf.m
}

// Close unmaps the region and closes the underlying file.
func (mf *MappedFile) Close() error {
	if err := mf.m.Unmap(); err != nil {
		mf.f.Close()
		return err
	}
	return mf.f.Close()
}

// compress encodes src with s2.
func compress(src []byte) []byte {
	return s2.Encode(nil, src)
}

// decompress is the inverse of compress.
func decompress(dst, src []byte) ([]byte, error) {
	return s2.Decode(dst, src)
}

// ═══════════════════════════════════════════════════════════════════════════════
// STORE WRITER
// ═══════════════════════════════════════════════════════════════════════════════

// StoreWriter accumulates documents into fixed-size staging buffers,
// compresses each as it fills, and tracks the resulting byte ranges in a
// SkipIndexBuilder so the finished file is seekable by doc id.
type StoreWriter struct {
	out   []byte
	skip  *SkipIndexBuilder
	stage []byte

	haveFirst bool
	firstDoc  uint32
	lastDoc   uint32
}

// NewStoreWriter returns an empty writer.
func NewStoreWriter() *StoreWriter {
	return &StoreWriter{skip: NewSkipIndexBuilder()}
}

// Write appends doc under docID to the current block, then flushes that block
// once it has reached storeBlockSize. Doc ids must be consecutive ordinals (each one
// more than the last): the checkpoint for a block records only its doc
// range, and Get recovers a document by walking docID - FirstDoc records
// into the decompressed block.
func (sw *StoreWriter) Write(docID uint32, doc Document) {
	if !sw.haveFirst {
		sw.firstDoc = docID
		sw.haveFirst = true
	}
	sw.stage = doc.Serialize(sw.stage)
	sw.lastDoc = docID
	if len(sw.stage) >= storeBlockSize {
		sw.flushBlock()
	}
}

func (sw *StoreWriter) flushBlock() {
	if len(sw.stage) == 0 {
		return
	}
	compressed := compress(sw.stage)
	start := uint64(len(sw.out))
	sw.out = append(sw.out, compressed...)
	end := uint64(len(sw.out))

	sw.skip.Insert(Checkpoint{
		FirstDoc:    sw.firstDoc,
		LastDoc:     sw.lastDoc,
		StartOffset: start,
		EndOffset:   end,
	})

	sw.stage = sw.stage[:0]
	sw.haveFirst = false
}

// Close flushes any pending block, appends the skip index and trailer, and
// returns the complete file contents.
func (sw *StoreWriter) Close() []byte {
	sw.flushBlock()
	skipOffset := uint64(len(sw.out))
	sw.out = append(sw.out, sw.skip.Write()...)

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], skipOffset)
	sw.out = append(sw.out, trailer[:]...)
	return sw.out
}

// ═══════════════════════════════════════════════════════════════════════════════
// STORE READER
// ═══════════════════════════════════════════════════════════════════════════════

// StoreReader serves Get(doc_id) over a sealed store file, decompressing
// only the one block a lookup actually needs and caching it across
// consecutive lookups into the same block. The cache is a single mutable
// slot, not safe for concurrent use - callers needing concurrent readers
// should construct one StoreReader per goroutine over the shared data slice.
type StoreReader struct {
	data []byte
	skip *SkipIndex

	cachedOffset uint64
	cachedBlock  []byte
	haveCache    bool
}

// NewStoreReader parses a sealed store file (as produced by
// StoreWriter.Close) into a reader. It does not copy data.
func NewStoreReader(data []byte) (*StoreReader, error) {
	dataSection, skipBytes, err := splitStoreFile(data)
	if err != nil {
		return nil, err
	}
	return &StoreReader{
		data: dataSection,
		skip: NewSkipIndex(skipBytes),
	}, nil
}

// splitStoreFile separates the compressed-block section from the skip-index
// section using the trailing u64 offset, mirroring the original store's
// split_file.
func splitStoreFile(data []byte) (dataSection, skipBytes []byte, err error) {
	if len(data) < trailerSize {
		return nil, nil, fmt.Errorf("blaze: store file too short for trailer: %d bytes", len(data))
	}
	trailer := data[len(data)-trailerSize:]
	offset := binary.LittleEndian.Uint64(trailer)
	body := data[:len(data)-trailerSize]
	if offset > uint64(len(body)) {
		return nil, nil, fmt.Errorf("blaze: store file trailer points past end of file")
	}
	return body[:offset], body[offset:], nil
}

// blockBytes returns the decompressed contents of the block spanning
// [start, end), reusing the cached decompression when the caller asks for
// the same block twice in a row.
func (sr *StoreReader) blockBytes(start, end uint64) ([]byte, error) {
	if sr.haveCache && sr.cachedOffset == start {
		return sr.cachedBlock, nil
	}
	block, err := decompress(sr.cachedBlock[:0], sr.data[start:end])
	if err != nil {
		return nil, err
	}
	sr.cachedBlock = block
	sr.cachedOffset = start
	sr.haveCache = true
	return block, nil
}

// Get decompresses the block containing docID (if needed) and returns the
// document it holds.
func (sr *StoreReader) Get(docID uint32) (Document, error) {
	cp, ok := sr.skip.Seek(docID)
	if !ok || docID < cp.FirstDoc {
		return Document{}, ErrDocNotFound
	}
	block, err := sr.blockBytes(cp.StartOffset, cp.EndOffset)
	if err != nil {
		return Document{}, err
	}

	c := &cursor{data: block}
	for doc := cp.FirstDoc; doc < docID; doc++ {
		if _, err := DeserializeDocument(c); err != nil {
			return Document{}, err
		}
	}
	return DeserializeDocument(c)
}

// Iter returns a forward cursor over every stored block's checkpoint, for
// callers that want to walk the whole store in order.
func (sr *StoreReader) Iter() *LayerCursor {
	return sr.skip.Cursor()
}

// ScratchPool hands out per-goroutine StoreReader scratch state when many
// goroutines share one sealed file; each minted reader gets its own
// non-thread-safe cache slot without forcing every caller to re-parse the
// skip index.
type ScratchPool struct {
	data []byte
	skip *SkipIndex
}

// NewScratchPool parses data once and lets callers mint independent readers
// that all share the parsed skip index but keep separate decompression
// caches.
func NewScratchPool(data []byte) (*ScratchPool, error) {
	dataSection, skipBytes, err := splitStoreFile(data)
	if err != nil {
		return nil, err
	}
	return &ScratchPool{data: dataSection, skip: NewSkipIndex(skipBytes)}, nil
}

// Reader mints a new StoreReader sharing this pool's parsed data.
func (p *ScratchPool) Reader() *StoreReader {
	return &StoreReader{data: p.data, skip: p.skip}
}
