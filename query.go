package blaze

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// QueryBuilder offers a fluent boolean-query API over roaring bitmaps
// instead of parsing a query string:
//
//	results := NewQueryBuilder(index).Term("machine").And().Term("learning").Execute()
//
// Term/Phrase build a stack of bitmaps, And/Or/Not queue pending
// operations, and Group lets parentheses-style nesting control precedence.

// QueryBuilder provides a fluent interface for building boolean queries
type QueryBuilder struct {
	index  *InvertedIndex
	stack  []*roaring.Bitmap // Stack of intermediate results
	ops    []QueryOp         // Stack of pending operations
	negate bool              // Whether next term should be negated
	terms  []string          // Track terms for BM25 scoring
}

// QueryOp represents a pending boolean operation
type QueryOp int

const (
	OpNone QueryOp = iota
	OpAnd
	OpOr
)

// NewQueryBuilder creates a new query builder over index.
func NewQueryBuilder(index *InvertedIndex) *QueryBuilder {
	return &QueryBuilder{
		index:  index,
		stack:  make([]*roaring.Bitmap, 0),
		ops:    make([]QueryOp, 0),
		negate: false,
		terms:  make([]string, 0),
	}
}

// Term adds a single-term match: an O(1) bitmap lookup, negated if Not()
// was just called, and pushed onto the operand stack for And/Or to combine.
func (qb *QueryBuilder) Term(term string) *QueryBuilder {
	// Analyze the term (lowercase, stem, etc.)
	tokens := Analyze(term)
	if len(tokens) == 0 {
		// Empty term - push empty bitmap
		qb.pushBitmap(roaring.NewBitmap())
		return qb
	}

	// Track term for BM25 scoring (if not negated)
	analyzedTerm := tokens[0]
	if !qb.negate {
		qb.terms = append(qb.terms, analyzedTerm)
	}

	// Get bitmap for the analyzed term
	bitmap := qb.getTermBitmap(analyzedTerm)

	// Apply negation if needed
	if qb.negate {
		bitmap = qb.negateBitmap(bitmap)
		qb.negate = false
	}

	qb.pushBitmap(bitmap)
	return qb
}

// Phrase adds an exact-sequence match, analyzed the same way indexing was,
// then resolved via the position-aware skip list search (FindAllPhrases)
// and collapsed to a bitmap of matching document ids.
func (qb *QueryBuilder) Phrase(phrase string) *QueryBuilder {
	// Analyze the phrase to match what was indexed
	// This converts "Machine Learning" to "machin learn" etc.
	tokens := Analyze(phrase)
	if len(tokens) == 0 {
		qb.pushBitmap(roaring.NewBitmap())
		return qb
	}

	// Track terms for BM25 scoring (if not negated)
	if !qb.negate {
		qb.terms = append(qb.terms, tokens...)
	}

	// Reconstruct the analyzed phrase
	analyzedPhrase := ""
	for i, token := range tokens {
		if i > 0 {
			analyzedPhrase += " "
		}
		analyzedPhrase += token
	}

	// Use existing phrase search from skip lists
	matches := qb.index.FindAllPhrases(analyzedPhrase, BOFDocument)

	// Convert to bitmap
	bitmap := roaring.NewBitmap()
	for _, match := range matches {
		if !match[0].IsEnd() {
			bitmap.Add(uint32(match[0].GetDocumentID()))
		}
	}

	// Apply negation if needed
	if qb.negate {
		bitmap = qb.negateBitmap(bitmap)
		qb.negate = false
	}

	qb.pushBitmap(bitmap)
	return qb
}

// And queues a bitmap intersection with the next operand.
func (qb *QueryBuilder) And() *QueryBuilder {
	qb.ops = append(qb.ops, OpAnd)
	return qb
}

// Or queues a bitmap union with the next operand.
func (qb *QueryBuilder) Or() *QueryBuilder {
	qb.ops = append(qb.ops, OpOr)
	return qb
}

// Not negates whichever Term/Phrase/Group comes next.
func (qb *QueryBuilder) Not() *QueryBuilder {
	qb.negate = true
	return qb
}

// Group evaluates fn as an independent sub-query and pushes its result,
// letting callers control operator precedence: ("cat" OR "dog") AND "pet".
func (qb *QueryBuilder) Group(fn func(*QueryBuilder)) *QueryBuilder {
	// Create a new sub-query
	subQuery := NewQueryBuilder(qb.index)

	// Execute the group function
	fn(subQuery)

	// Get the result from the sub-query
	result := subQuery.Execute()

	// Apply negation if needed
	if qb.negate {
		result = qb.negateBitmap(result)
		qb.negate = false
	}

	qb.pushBitmap(result)
	return qb
}

// Execute folds the operand stack left-to-right through its queued
// And/Or operations and returns the resulting bitmap of matching doc ids.
func (qb *QueryBuilder) Execute() *roaring.Bitmap {
	if len(qb.stack) == 0 {
		return roaring.NewBitmap()
	}

	// Process the stack with operations
	result := qb.stack[0]
	for i := 1; i < len(qb.stack); i++ {
		if i-1 < len(qb.ops) {
			op := qb.ops[i-1]
			switch op {
			case OpAnd:
				// Intersection: docs in BOTH bitmaps
				result = roaring.And(result, qb.stack[i])
			case OpOr:
				// Union: docs in EITHER bitmap
				result = roaring.Or(result, qb.stack[i])
			}
		}
	}

	return result
}

// ExecuteWithBM25 runs the boolean query, scores every matching document
// with BM25, and returns the top maxResults sorted by score descending.
func (qb *QueryBuilder) ExecuteWithBM25(maxResults int) []Match {
	// Execute boolean query
	resultBitmap := qb.Execute()

	// Extract terms for BM25 scoring
	terms := qb.extractTerms()

	// Score each matching document
	var results []Match
	iter := resultBitmap.Iterator()
	for iter.HasNext() {
		docID := int(iter.Next())
		score := qb.index.calculateBM25Score(docID, terms)

		if score > 0 {
			results = append(results, Match{
				DocID: docID,
				Score: score,
			})
		}
	}

	// Sort by score (descending)
	qb.index.sortMatchesByScore(results)

	// Return top K
	return limitResults(results, maxResults)
}

func (qb *QueryBuilder) getTermBitmap(term string) *roaring.Bitmap {
	if bitmap, exists := qb.index.DocBitmaps[term]; exists {
		return bitmap.Clone()
	}
	return roaring.NewBitmap()
}

// negateBitmap returns every document id NOT in bitmap.
func (qb *QueryBuilder) negateBitmap(bitmap *roaring.Bitmap) *roaring.Bitmap {
	allDocs := roaring.NewBitmap()
	for docID := range qb.index.DocStats {
		allDocs.Add(uint32(docID))
	}
	return roaring.AndNot(allDocs, bitmap)
}

func (qb *QueryBuilder) pushBitmap(bitmap *roaring.Bitmap) {
	qb.stack = append(qb.stack, bitmap)
}

func (qb *QueryBuilder) extractTerms() []string {
	return qb.terms
}

// AllOf is shorthand for Term(terms[0]).And().Term(terms[1])... .
func AllOf(index *InvertedIndex, terms ...string) *roaring.Bitmap {
	if len(terms) == 0 {
		return roaring.NewBitmap()
	}

	qb := NewQueryBuilder(index).Term(terms[0])
	for i := 1; i < len(terms); i++ {
		qb.And().Term(terms[i])
	}
	return qb.Execute()
}

// AnyOf is shorthand for Term(terms[0]).Or().Term(terms[1])... .
func AnyOf(index *InvertedIndex, terms ...string) *roaring.Bitmap {
	if len(terms) == 0 {
		return roaring.NewBitmap()
	}

	qb := NewQueryBuilder(index).Term(terms[0])
	for i := 1; i < len(terms); i++ {
		qb.Or().Term(terms[i])
	}
	return qb.Execute()
}

// TermExcluding is shorthand for Term(include).And().Not().Term(exclude).
func TermExcluding(index *InvertedIndex, include, exclude string) *roaring.Bitmap {
	return NewQueryBuilder(index).
		Term(include).
		And().Not().Term(exclude).
		Execute()
}

// MatchWithBody pairs a ranked Match with the document body read back from
// a sealed store.
type MatchWithBody struct {
	Match
	Body []byte
}

// ExecuteWithBodies runs ExecuteWithBM25 and then resolves each result's
// document body out of store, the StoreReader returned by Open for the
// same sealed index this QueryBuilder was built over. A document whose
// body was never sealed (bodies omitted from Seal) is returned with a nil
// Body rather than an error, since the postings/BM25 stats are still valid
// without it.
func (qb *QueryBuilder) ExecuteWithBodies(store *StoreReader, maxResults int) ([]MatchWithBody, error) {
	matches := qb.ExecuteWithBM25(maxResults)
	results := make([]MatchWithBody, len(matches))
	for i, m := range matches {
		results[i] = MatchWithBody{Match: m}
		if store == nil {
			continue
		}
		doc, err := store.Get(uint32(m.DocID))
		if err != nil {
			if errors.Is(err, ErrDocNotFound) {
				continue
			}
			return nil, fmt.Errorf("blaze: fetching body for doc %d: %w", m.DocID, err)
		}
		results[i].Body = doc.Body
	}
	return results, nil
}
