package blaze

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERIALIZATION: Sealing and Reopening the Index
// ═══════════════════════════════════════════════════════════════════════════════
// Sealing goes through the same skip-index/position-stream/doc-store
// machinery a lookup uses: each term's postings drain out of their live
// SkipList into a TermPostingsWriter (position stream + doc-id skip index +
// roaring existence bitmap), and optional document bodies drain into a
// StoreWriter (compressed blocks + byte-range skip index). Opening reverses
// this: each term's postings are read back and reinserted into a fresh
// SkipList so First/Next/Previous/phrase search (index.go, query.go,
// search.go) keep working against the exact same live structure they were
// built on - only the on-disk shape differs.
//
// ENVELOPE (outer framing; length-prefixed, no trailer - the trailer split
// idiom is reserved for the store/term-store sub-formats, which already use
// it internally):
//
//	[varint TotalDocs][varint TotalTerms]
//	[varint bits(K1)][varint bits(B)]
//	[varint numDocStats] doc stats...
//	[varint len(termStoreBytes)][termStoreBytes]
//	[varint len(storeBytes)][storeBytes]
// ═══════════════════════════════════════════════════════════════════════════════

// Seal drains the index's live postings and BM25 statistics into the
// immutable on-disk format. bodies, if non-nil, supplies each document's raw
// text for storage alongside the postings (docID -> body); pass nil to seal
// postings and statistics only. Body doc ids must be consecutive ordinals
// (StoreWriter's contract); postings tolerate the sparse per-term doc sets
// indexing naturally produces.
func (idx *InvertedIndex) Seal(bodies map[int]string) ([]byte, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var out []byte
	out = putVarint(out, uint64(idx.TotalDocs))
	out = putVarint(out, uint64(idx.TotalTerms))
	out = putVarint(out, math.Float64bits(idx.BM25Params.K1))
	out = putVarint(out, math.Float64bits(idx.BM25Params.B))
	out = encodeDocStats(out, idx.DocStats)

	termStoreBytes, err := sealTermStore(idx.PostingsList, idx.DocBitmaps)
	if err != nil {
		return nil, fmt.Errorf("blaze: sealing term store: %w", err)
	}
	out = putVarint(out, uint64(len(termStoreBytes)))
	out = append(out, termStoreBytes...)

	storeBytes := sealBodies(bodies)
	out = putVarint(out, uint64(len(storeBytes)))
	out = append(out, storeBytes...)

	return out, nil
}

// Open parses a sealed index back into a live InvertedIndex, ready for
// First/Next/Previous and the query/search layers built on top of them.
// The returned *StoreReader is nil if the sealed data carried no document
// bodies.
func Open(data []byte) (*InvertedIndex, *StoreReader, error) {
	c := &cursor{data: data}

	totalDocs, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	totalTerms, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	k1Bits, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	bBits, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}

	docStats, err := decodeDocStats(c)
	if err != nil {
		return nil, nil, err
	}

	termStoreLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	termStoreBytes, err := c.readBytes(int(termStoreLen))
	if err != nil {
		return nil, nil, err
	}
	postings, bitmaps, err := openTermStore(termStoreBytes)
	if err != nil {
		return nil, nil, err
	}

	storeLen, err := c.readVarint()
	if err != nil {
		return nil, nil, err
	}
	storeBytes, err := c.readBytes(int(storeLen))
	if err != nil {
		return nil, nil, err
	}
	var reader *StoreReader
	if len(storeBytes) > 0 {
		reader, err = NewStoreReader(storeBytes)
		if err != nil {
			return nil, nil, err
		}
	}

	idx := &InvertedIndex{
		DocBitmaps:   bitmaps,
		PostingsList: postings,
		DocStats:     docStats,
		TotalDocs:    int(totalDocs),
		TotalTerms:   int64(totalTerms),
		BM25Params: BM25Parameters{
			K1: math.Float64frombits(k1Bits),
			B:  math.Float64frombits(bBits),
		},
	}
	return idx, reader, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// DOC STATS
// ═══════════════════════════════════════════════════════════════════════════════

func encodeDocStats(buf []byte, stats map[int]DocumentStats) []byte {
	buf = putVarint(buf, uint64(len(stats)))
	for _, ds := range stats {
		buf = putVarint(buf, uint64(ds.DocID))
		buf = putVarint(buf, uint64(ds.Length))
		buf = putVarint(buf, uint64(len(ds.TermFreqs)))
		for term, freq := range ds.TermFreqs {
			buf = putVarint(buf, uint64(len(term)))
			buf = append(buf, term...)
			buf = putVarint(buf, uint64(freq))
		}
	}
	return buf
}

func decodeDocStats(c *cursor) (map[int]DocumentStats, error) {
	n, err := c.readVarint()
	if err != nil {
		return nil, err
	}
	stats := make(map[int]DocumentStats, n)
	for i := uint64(0); i < n; i++ {
		docID, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		length, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		numTerms, err := c.readVarint()
		if err != nil {
			return nil, err
		}
		freqs := make(map[string]int, numTerms)
		for j := uint64(0); j < numTerms; j++ {
			termLen, err := c.readVarint()
			if err != nil {
				return nil, err
			}
			termBytes, err := c.readBytes(int(termLen))
			if err != nil {
				return nil, err
			}
			freq, err := c.readVarint()
			if err != nil {
				return nil, err
			}
			freqs[string(termBytes)] = int(freq)
		}
		stats[int(docID)] = DocumentStats{
			DocID:     int(docID),
			Length:    int(length),
			TermFreqs: freqs,
		}
	}
	return stats, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// TERM STORE GLUE
// ═══════════════════════════════════════════════════════════════════════════════

// sealTermStore drains every term's live SkipList into the sealed
// TermStoreWriter format.
func sealTermStore(postings map[string]SkipList, bitmaps map[string]*roaring.Bitmap) ([]byte, error) {
	tw := NewTermStoreWriter()

	// Deterministic term order keeps Seal's output reproducible across runs
	// over the same index, which matters for tests comparing two seals.
	terms := make([]string, 0, len(postings))
	for term := range postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		pw := NewTermPostingsWriter()
		for _, run := range drainSkipList(postings[term]) {
			pw.AddDoc(run.docID, run.positions)
		}
		bm := bitmaps[term]
		if bm == nil {
			bm = roaring.New()
		}
		if err := tw.AddTerm(term, pw, bm); err != nil {
			return nil, err
		}
	}
	return tw.Close(), nil
}

// openTermStore reverses sealTermStore: every sealed term's postings are
// read back in full and reinserted into a fresh, live SkipList.
func openTermStore(data []byte) (map[string]SkipList, map[string]*roaring.Bitmap, error) {
	postings := make(map[string]SkipList)
	bitmaps := make(map[string]*roaring.Bitmap)
	if len(data) == 0 {
		return postings, bitmaps, nil
	}

	tr, err := NewTermStoreReader(data)
	if err != nil {
		return nil, nil, err
	}
	for _, term := range tr.Terms() {
		reader, bitmap, err := tr.Term(term)
		if err != nil {
			return nil, nil, err
		}
		sl := NewSkipList()
		it := bitmap.Iterator()
		for it.HasNext() {
			docID := it.Next()
			positions, err := reader.Positions(docID)
			if err != nil {
				return nil, nil, err
			}
			for _, pos := range positions {
				sl.Insert(Position{
					DocumentID: float64(docID),
					Offset:     float64(pos),
				})
			}
		}
		postings[term] = *sl
		bitmaps[term] = bitmap
	}
	return postings, bitmaps, nil
}

// docRun is one term's contiguous occurrence run within a single document.
type docRun struct {
	docID     uint32
	positions []uint32
}

// drainSkipList walks sl's bottom level (already sorted by DocumentID then
// Offset, per skiplist.go's ordering invariant) and groups consecutive
// positions sharing a DocumentID into one run.
func drainSkipList(sl SkipList) []docRun {
	var runs []docRun
	var current *docRun

	for n := sl.Head.Tower[0]; n != nil; n = n.Tower[0] {
		docID := uint32(n.Key.DocumentID)
		offset := uint32(n.Key.Offset)
		if current != nil && current.docID == docID {
			current.positions = append(current.positions, offset)
			continue
		}
		runs = append(runs, docRun{docID: docID, positions: []uint32{offset}})
		current = &runs[len(runs)-1]
	}
	return runs
}

// ═══════════════════════════════════════════════════════════════════════════════
// DOCUMENT BODY STORE GLUE
// ═══════════════════════════════════════════════════════════════════════════════

// sealBodies writes bodies (docID -> raw text) through a StoreWriter in
// ascending doc-id order, as the skip index's Checkpoint contract requires.
// Returns nil if bodies is empty.
func sealBodies(bodies map[int]string) []byte {
	if len(bodies) == 0 {
		return nil
	}
	docIDs := make([]int, 0, len(bodies))
	for id := range bodies {
		docIDs = append(docIDs, id)
	}
	sort.Ints(docIDs)

	sw := NewStoreWriter()
	for _, id := range docIDs {
		sw.Write(uint32(id), Document{Body: []byte(bodies[id])})
	}
	return sw.Close()
}
