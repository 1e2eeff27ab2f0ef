package blaze

import "log/slog"

// ═══════════════════════════════════════════════════════════════════════════════
// SKIP INDEX READER: Forward Cursor + Logarithmic Seek
// ═══════════════════════════════════════════════════════════════════════════════
// SkipIndex parses the header SkipIndexBuilder.Write produced and exposes
// two read paths over the tower:
//
//   - Cursor(): a forward iterator over the BASE layer only - the
//     exhaustive sequence of every checkpoint ever inserted.
//   - Seek(target): walks the tower top-down, using each layer's sparse
//     skip pointers to narrow the byte range searched in the layer below,
//     until it lands on the checkpoint in the base layer whose LastDoc is
//     the first one >= target.
//
// Seek is the whole point of the tower: instead of scanning the base layer
// checkpoint by checkpoint (O(n)), it does O(PERIOD) comparisons per level
// across O(log_PERIOD n) levels.
// ═══════════════════════════════════════════════════════════════════════════════

// layerCursor walks one layer's serialized blocks one at a time, exhausting
// each before deserializing the next.
type layerCursor struct {
	remaining []byte
	block     Block
	idx       int
	strict    bool
}

func emptyLayerCursor() layerCursor {
	return layerCursor{}
}

// next returns the next checkpoint in the layer, or ok=false when the layer
// is exhausted (including when it ends on a truncated trailing block).
func (lc *layerCursor) next() (Checkpoint, bool) {
	if lc.idx == lc.block.Len() {
		if len(lc.remaining) == 0 {
			return Checkpoint{}, false
		}
		c := &cursor{data: lc.remaining}
		if err := lc.block.Deserialize(c); err != nil {
			if lc.strict {
				slog.Warn("blaze: truncated skip-index block, stopping iteration", slog.Any("error", err))
			}
			lc.remaining = nil
			return Checkpoint{}, false
		}
		lc.remaining = c.data
		lc.idx = 0
		if lc.block.Len() == 0 {
			return Checkpoint{}, false
		}
	}
	cp := lc.block.Get(lc.idx)
	lc.idx++
	return cp, true
}

// layer is a read-only byte region holding a concatenation of serialized
// Blocks: a lazy, non-restartable-except-at-a-known-offset sequence of
// Checkpoints.
type layer struct {
	data   []byte
	strict bool
}

func (l layer) cursor() layerCursor {
	return l.cursorAtOffset(0)
}

func (l layer) cursorAtOffset(offset uint64) layerCursor {
	if offset > uint64(len(l.data)) {
		return layerCursor{strict: l.strict}
	}
	return layerCursor{remaining: l.data[offset:], strict: l.strict}
}

// seekStartAtOffset scans forward from offset looking for the first
// checkpoint whose LastDoc >= target, returning it. ok is false if the
// layer ends first.
func (l layer) seekStartAtOffset(target uint32, offset uint64) (Checkpoint, bool) {
	c := l.cursorAtOffset(offset)
	for {
		cp, ok := c.next()
		if !ok {
			return Checkpoint{}, false
		}
		if cp.LastDoc >= target {
			return cp, true
		}
	}
}

// SkipIndex is a parsed, immutable tower of layers over a byte region.
// Layer 0 is the topmost (smallest, sparsest); the last layer is the base
// (exhaustive).
type SkipIndex struct {
	layers []layer
	// Strict, when set, makes a truncated trailing block during iteration
	// log a diagnostic via log/slog instead of silently ending the cursor.
	Strict bool
}

// NewSkipIndex parses data (the full byte region written by
// SkipIndexBuilder.Write) into a SkipIndex. Empty input yields a
// zero-layer tower. A malformed header is treated as end-of-stream rather
// than a hard error, since a corrupt or truncated header should never panic
// a reader - callers that care can opt into Strict for a logged diagnostic.
func NewSkipIndex(data []byte) *SkipIndex {
	if len(data) == 0 {
		return &SkipIndex{}
	}
	c := &cursor{data: data}
	offsets, err := getVarintSlice(c)
	if err != nil {
		return &SkipIndex{}
	}
	payload := c.data
	layers := make([]layer, 0, len(offsets))
	var start uint64
	for _, stop := range offsets {
		if stop < start || stop > uint64(len(payload)) {
			return &SkipIndex{}
		}
		layers = append(layers, layer{data: payload[start:stop]})
		start = stop
	}
	return &SkipIndex{layers: layers}
}

// applyStrict propagates the Strict flag to freshly constructed cursors;
// called lazily so callers can flip Strict on after construction. Layers
// start non-strict, and the no-op default keeps concurrent non-strict
// readers free of writes to shared state.
func (si *SkipIndex) applyStrict() {
	if !si.Strict {
		return
	}
	for i := range si.layers {
		si.layers[i].strict = true
	}
}

// Cursor returns a forward iterator over the base layer - every checkpoint
// ever inserted, in order. A zero-layer tower yields an empty cursor.
func (si *SkipIndex) Cursor() *LayerCursor {
	si.applyStrict()
	if len(si.layers) == 0 {
		lc := emptyLayerCursor()
		return &LayerCursor{inner: lc}
	}
	return &LayerCursor{inner: si.layers[len(si.layers)-1].cursor()}
}

// LayerCursor is the exported forward-iteration handle returned by Cursor.
type LayerCursor struct {
	inner layerCursor
}

// Next advances the cursor and returns the next checkpoint, or ok=false
// when exhausted.
func (c *LayerCursor) Next() (Checkpoint, bool) {
	return c.inner.next()
}

// Seek walks the tower top-down and returns the first checkpoint whose
// LastDoc >= target (for gap-free checkpoints, the one with
// FirstDoc <= target <= LastDoc; a target below the first FirstDoc gets the
// first checkpoint), or ok=false if target exceeds the largest indexed
// LastDoc - a normal "not found" outcome, not an error.
func (si *SkipIndex) Seek(target uint32) (Checkpoint, bool) {
	si.applyStrict()
	if len(si.layers) == 0 {
		return Checkpoint{}, false
	}
	lo, hi := uint64(0), uint64(len(si.layers[0].data))
	var cp Checkpoint
	for i, l := range si.layers {
		// A corrupt checkpoint can carry a child range past the layer's
		// end; clamp instead of slicing out of bounds and let the cursor
		// terminate on the truncated tail.
		if hi > uint64(len(l.data)) {
			hi = uint64(len(l.data))
		}
		window := layer{data: l.data[:hi], strict: si.Strict}
		found, ok := window.seekStartAtOffset(target, lo)
		if !ok {
			return Checkpoint{}, false
		}
		cp = found
		if i+1 < len(si.layers) {
			lo, hi = found.StartOffset, found.EndOffset
		}
	}
	return cp, true
}
