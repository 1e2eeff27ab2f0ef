package blaze

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TERM STORE: Sealing a Term's Live Postings Into the Immutable Format
// ═══════════════════════════════════════════════════════════════════════════════
// InvertedIndex keeps postings live, in a probabilistic SkipList, while a
// segment is still being built (skiplist.go). Once indexing for a segment
// is done, each term's postings are sealed here into
// exactly the same shape the document store uses for document blocks: a
// SkipIndexBuilder tower of Checkpoints, except the "byte range" a
// Checkpoint carries is reinterpreted as a position-stream INDEX range
// (start/end position indices into that term's PositionSerializer stream)
// instead of a byte range into compressed blocks. The position codec itself
// (positions_serializer.go/positions_reader.go) is unmodified.
//
// Per-term layout, concatenated one after another:
//
//	[varint name len][name][varint stream len][stream]
//	[varint skip len][skip][varint doc-skip len][doc-skip]
//	[varint bitmap len][roaring bitmap bytes]
//
// followed by a directory (name -> offset/length) and an 8-byte trailer
// pointing at it, mirroring store.go's split_file trailer.
// ═══════════════════════════════════════════════════════════════════════════════

// TermPostingsWriter accumulates one term's (docID, positions) runs into a
// sealed position stream plus a doc-id -> position-index-range skip index.
type TermPostingsWriter struct {
	positions *PositionSerializer
	docSkip   *SkipIndexBuilder

	haveDocs    bool
	nextRangeLo uint32
}

// NewTermPostingsWriter returns an empty writer for a single term.
func NewTermPostingsWriter() *TermPostingsWriter {
	return &TermPostingsWriter{
		positions: NewPositionSerializer(),
		docSkip:   NewSkipIndexBuilder(),
	}
}

// AddDoc appends one document's occurrence positions (already sorted, as
// produced by draining the term's live SkipList) as a single run, and
// records its position-index range as one Checkpoint. Doc ids must arrive
// strictly increasing; they need not be consecutive.
//
// A term usually skips most documents, but Block serialization reconstructs
// checkpoints as gap-free (each FirstDoc is rebuilt as the previous
// LastDoc+1). So the checkpoint for docID absorbs the id gap since the
// previous run: FirstDoc covers the skipped ids, LastDoc names the one
// document that actually holds the run. Readers disambiguate by matching on
// LastDoc.
func (w *TermPostingsWriter) AddDoc(docID uint32, positions []uint32) {
	firstDoc := docID
	if w.haveDocs {
		firstDoc = w.nextRangeLo
	}
	w.haveDocs = true
	w.nextRangeLo = docID + 1

	start := w.positions.PositionsIdx()
	for _, p := range positions {
		w.positions.Write(p)
	}
	end := w.positions.PositionsIdx()
	w.docSkip.Insert(Checkpoint{
		FirstDoc:    firstDoc,
		LastDoc:     docID,
		StartOffset: start,
		EndOffset:   end,
	})
}

// sealedTerm is the writer's final byte form, before it's packed into a
// TermStore directory entry.
type sealedTerm struct {
	stream  []byte
	skip    []byte
	docSkip []byte
}

// Close finalizes the position stream and doc-skip tower.
func (w *TermPostingsWriter) Close() sealedTerm {
	w.positions.Close()
	return sealedTerm{
		stream:  w.positions.Stream(),
		skip:    w.positions.Skip(),
		docSkip: w.docSkip.Write(),
	}
}

// TermPostingsReader answers position queries for a single sealed term.
type TermPostingsReader struct {
	stream, skip []byte
	docSkip      *SkipIndex
}

// NewTermPostingsReader parses a sealed term's three byte sections.
func NewTermPostingsReader(stream, skip, docSkip []byte) *TermPostingsReader {
	return &TermPostingsReader{
		stream:  stream,
		skip:    skip,
		docSkip: NewSkipIndex(docSkip),
	}
}

// Positions returns docID's occurrence positions within the term, or
// ErrDocNotFound if the term was never indexed in that document. A
// checkpoint's run belongs to its LastDoc alone; any other id inside the
// checkpoint's range is a gap the writer spanned (see AddDoc).
func (r *TermPostingsReader) Positions(docID uint32) ([]uint32, error) {
	cp, ok := r.docSkip.Seek(docID)
	if !ok || docID != cp.LastDoc {
		return nil, ErrDocNotFound
	}
	pr := NewPositionReader(r.stream, r.skip, cp.StartOffset)
	out := make([]uint32, cp.EndOffset-cp.StartOffset)
	pr.Read(out)
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// TERM STORE WRITER / READER
// ═══════════════════════════════════════════════════════════════════════════════

// TermStoreWriter packs multiple sealed terms (each with its own postings
// writer and doc-existence bitmap) into one file with a name-keyed
// directory.
type TermStoreWriter struct {
	out []byte
	dir []termDirEntry
}

type termDirEntry struct {
	name   string
	offset uint64
	length uint64
}

// NewTermStoreWriter returns an empty writer.
func NewTermStoreWriter() *TermStoreWriter {
	return &TermStoreWriter{}
}

// AddTerm seals one term's postings writer and doc-existence bitmap and
// appends the resulting block.
func (tw *TermStoreWriter) AddTerm(term string, w *TermPostingsWriter, docs *roaring.Bitmap) error {
	bitmapBytes, err := docs.ToBytes()
	if err != nil {
		return fmt.Errorf("blaze: serializing bitmap for term %q: %w", term, err)
	}
	sealed := w.Close()

	start := uint64(len(tw.out))
	tw.out = putVarint(tw.out, uint64(len(term)))
	tw.out = append(tw.out, term...)
	tw.out = putVarint(tw.out, uint64(len(sealed.stream)))
	tw.out = append(tw.out, sealed.stream...)
	tw.out = putVarint(tw.out, uint64(len(sealed.skip)))
	tw.out = append(tw.out, sealed.skip...)
	tw.out = putVarint(tw.out, uint64(len(sealed.docSkip)))
	tw.out = append(tw.out, sealed.docSkip...)
	tw.out = putVarint(tw.out, uint64(len(bitmapBytes)))
	tw.out = append(tw.out, bitmapBytes...)

	tw.dir = append(tw.dir, termDirEntry{name: term, offset: start, length: uint64(len(tw.out)) - start})
	return nil
}

// Close appends the directory and trailer, returning the complete file.
func (tw *TermStoreWriter) Close() []byte {
	dirOffset := uint64(len(tw.out))
	tw.out = putVarint(tw.out, uint64(len(tw.dir)))
	for _, e := range tw.dir {
		tw.out = putVarint(tw.out, uint64(len(e.name)))
		tw.out = append(tw.out, e.name...)
		tw.out = putVarint(tw.out, e.offset)
		tw.out = putVarint(tw.out, e.length)
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], dirOffset)
	tw.out = append(tw.out, trailer[:]...)
	return tw.out
}

// TermStoreReader serves per-term postings readers and doc-existence
// bitmaps out of a sealed TermStoreWriter file.
type TermStoreReader struct {
	data []byte
	dir  map[string][2]uint64 // name -> (offset, length)
}

// NewTermStoreReader parses data's directory. It does not copy data or
// decode any term block eagerly.
func NewTermStoreReader(data []byte) (*TermStoreReader, error) {
	if len(data) < trailerSize {
		return nil, fmt.Errorf("blaze: term store file too short for trailer: %d bytes", len(data))
	}
	trailer := data[len(data)-trailerSize:]
	dirOffset := binary.LittleEndian.Uint64(trailer)
	body := data[:len(data)-trailerSize]
	if dirOffset > uint64(len(body)) {
		return nil, fmt.Errorf("blaze: term store trailer points past end of file")
	}

	c := &cursor{data: body[dirOffset:]}
	count, err := c.readVarint()
	if err != nil {
		return nil, err
	}
	dir := make(map[string][2]uint64, count)
	for i := uint64(0); i < count; i++ {
		nameLen, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		nameBytes, err := c.readBytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		offset, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		length, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		dir[string(nameBytes)] = [2]uint64{offset, length}
	}
	return &TermStoreReader{data: body, dir: dir}, nil
}

// ErrTermNotFound is returned when a term was never sealed into the store.
var ErrTermNotFound = fmt.Errorf("blaze: term not found in term store")

// Term parses term's block and returns a postings reader plus its
// doc-existence bitmap.
func (tr *TermStoreReader) Term(term string) (*TermPostingsReader, *roaring.Bitmap, error) {
	loc, ok := tr.dir[term]
	if !ok {
		return nil, nil, ErrTermNotFound
	}
	c := &cursor{data: tr.data[loc[0] : loc[0]+loc[1]]}

	nameLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.readBytes(int(nameLen)); err != nil {
		return nil, nil, err
	}

	streamLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	stream, err := c.readBytes(int(streamLen))
	if err != nil {
		return nil, nil, err
	}

	skipLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	skip, err := c.readBytes(int(skipLen))
	if err != nil {
		return nil, nil, err
	}

	docSkipLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	docSkip, err := c.readBytes(int(docSkipLen))
	if err != nil {
		return nil, nil, err
	}

	bitmapLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	bitmapBytes, err := c.readBytes(int(bitmapLen))
	if err != nil {
		return nil, nil, err
	}
	bitmap := roaring.New()
	if _, err := bitmap.FromBuffer(bitmapBytes); err != nil {
		return nil, nil, err
	}

	return NewTermPostingsReader(stream, skip, docSkip), bitmap, nil
}

// Terms returns every sealed term name, for callers that need to walk the
// whole dictionary (e.g. Seal's own round-trip tests).
func (tr *TermStoreReader) Terms() []string {
	names := make([]string, 0, len(tr.dir))
	for name := range tr.dir {
		names = append(names, name)
	}
	return names
}
