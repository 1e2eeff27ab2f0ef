package blaze

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

var (
	ErrNoPostingList = errors.New("no posting list exists for token")
	ErrNoNextElement = errors.New("no next element found")
	ErrNoPrevElement = errors.New("no previous element found")
)

// BM25Parameters holds the tuning parameters for the BM25 ranking function:
// k1 saturates term frequency (10 vs 100 occurrences matter less and less),
// b normalizes for document length (long docs don't unfairly rank higher).
type BM25Parameters struct {
	K1 float64 // Term frequency saturation (typical: 1.2-2.0)
	B  float64 // Length normalization (typical: 0.75)
}

// DefaultBM25Parameters returns the standard BM25 parameters
func DefaultBM25Parameters() BM25Parameters {
	return BM25Parameters{
		K1: 1.5,
		B:  0.75,
	}
}

// DocumentStats stores statistics about a single document
type DocumentStats struct {
	DocID     int            // Document identifier
	Length    int            // Number of terms in the document
	TermFreqs map[string]int // How many times each term appears
}

// InvertedIndex maps terms back to the documents and positions that contain
// them, in two parallel structures per term: a roaring bitmap of document
// ids for O(1) boolean set operations, and a skip list of exact
// (document, offset) positions for phrase and proximity search. BM25
// statistics accumulate alongside so ranking needs no second pass over the
// corpus.
type InvertedIndex struct {
	mu sync.Mutex

	// DOCUMENT-LEVEL STORAGE (for fast document lookups and boolean queries)
	DocBitmaps map[string]*roaring.Bitmap // Term → Bitmap of document IDs

	// POSITION-LEVEL STORAGE (for phrase search, proximity)
	PostingsList map[string]SkipList // Term → Positions

	DocStats   map[int]DocumentStats // DocID → statistics
	TotalDocs  int                   // Total number of indexed documents
	TotalTerms int64                 // Total number of terms across all docs
	BM25Params BM25Parameters        // BM25 tuning parameters
}

// NewInvertedIndex creates a new empty inverted index
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		DocBitmaps:   make(map[string]*roaring.Bitmap),
		PostingsList: make(map[string]SkipList),
		DocStats:     make(map[int]DocumentStats),
		TotalDocs:    0,
		TotalTerms:   0,
		BM25Params:   DefaultBM25Parameters(),
	}
}

// Index adds a document to the inverted index: analyze the text into
// tokens, record each token's position, and fold the document's term
// frequencies and length into the BM25 statistics.
func (idx *InvertedIndex) Index(docID int, document string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	slog.Info("indexing document", slog.Int("docID", docID))

	tokens := Analyze(document)

	docStats := DocumentStats{
		DocID:     docID,
		Length:    len(tokens),
		TermFreqs: make(map[string]int),
	}

	for position, token := range tokens {
		idx.indexToken(token, docID, position)
		docStats.TermFreqs[token]++
	}

	idx.DocStats[docID] = docStats
	idx.TotalDocs++
	idx.TotalTerms += int64(len(tokens))
}

// indexToken adds a single token occurrence to both per-term structures.
// docID and position arrive as ints and are cast to float64 on the way in
// - Position stores both fields as float64 so BOF/EOF sentinels (+/-Inf)
// fit alongside real document ids and offsets.
func (idx *InvertedIndex) indexToken(token string, docID, position int) {
	if idx.DocBitmaps[token] == nil {
		idx.DocBitmaps[token] = roaring.NewBitmap()
	}
	idx.DocBitmaps[token].Add(uint32(docID))

	skipList, exists := idx.getPostingList(token)
	if !exists {
		skipList = *NewSkipList()
	}

	skipList.Insert(Position{
		DocumentID: float64(docID),
		Offset:     float64(position),
	})

	// Maps don't update automatically when you modify a struct value.
	idx.PostingsList[token] = skipList
}

// getPostingList retrieves the posting list for a token
func (idx *InvertedIndex) getPostingList(token string) (SkipList, bool) {
	skipList, exists := idx.PostingsList[token]
	return skipList, exists
}

// First, Last, Next and Previous form the iterator foundation every search
// operation in search.go is built on.

// First returns the first occurrence of a token in the index
func (idx *InvertedIndex) First(token string) (Position, error) {
	skipList, exists := idx.getPostingList(token)
	if !exists {
		return EOFDocument, ErrNoPostingList
	}

	// The first position is the bottom level's first real node.
	return skipList.Head.Tower[0].Key, nil
}

// Last returns the last occurrence of a token in the index
func (idx *InvertedIndex) Last(token string) (Position, error) {
	skipList, exists := idx.getPostingList(token)
	if !exists {
		return EOFDocument, ErrNoPostingList
	}

	return skipList.Last(), nil
}

// Next finds the next occurrence of a token after the given position.
// From BOF it returns First; from EOF it stays at EOF.
func (idx *InvertedIndex) Next(token string, currentPos Position) (Position, error) {
	if currentPos.IsBeginning() {
		return idx.First(token)
	}

	if currentPos.IsEnd() {
		return EOFDocument, nil
	}

	skipList, exists := idx.getPostingList(token)
	if !exists {
		return EOFDocument, ErrNoPostingList
	}

	nextPos, _ := skipList.FindGreaterThan(currentPos)
	return nextPos, nil
}

// Previous finds the previous occurrence of a token before the given
// position. From EOF it returns Last; from BOF it stays at BOF.
func (idx *InvertedIndex) Previous(token string, currentPos Position) (Position, error) {
	if currentPos.IsEnd() {
		return idx.Last(token)
	}

	if currentPos.IsBeginning() {
		return BOFDocument, nil
	}

	skipList, exists := idx.getPostingList(token)
	if !exists {
		return BOFDocument, ErrNoPostingList
	}

	prevPos, _ := skipList.FindLessThan(currentPos)
	return prevPos, nil
}
