package blaze

// ═══════════════════════════════════════════════════════════════════════════════
// SKIP INDEX BUILDER: Stacking Layers Into a Logarithmic Tower
// ═══════════════════════════════════════════════════════════════════════════════
// The base layer (layer 0 here, last once reversed) holds every checkpoint
// the caller inserts. Every time that layer's current Block fills up
// (PERIOD checkpoints), it's flushed to bytes and the resulting byte range
// is promoted as a single "skip pointer" checkpoint into the next layer up.
// That layer does the same thing one level higher, and so on - exactly a
// fanout-PERIOD tree, flattened level by level instead of built with
// pointers.
//
//	layer 0 (dense):  [cp][cp][cp][cp][cp][cp][cp][cp] [cp][cp]...
//	layer 1 (sparse):          [skip ptr for first 8]   ...
//	layer 2 (sparser):                 [skip ptr for first 64] ...
//
// On write(), the layers are reversed (so the smallest, topmost layer comes
// first in the file) and a cumulative-size header is prepended so a reader
// can slice the concatenated buffer back into layers without walking it.
// ═══════════════════════════════════════════════════════════════════════════════

// layerBuilder accumulates checkpoints into a byte buffer, emitting a skip
// pointer every PERIOD insertions.
type layerBuilder struct {
	buffer []byte
	block  Block
}

func newLayerBuilder() *layerBuilder {
	return &layerBuilder{block: Block{checkpoints: make([]Checkpoint, 0, PERIOD)}}
}

// push forwards a checkpoint to the in-memory block without flushing.
func (lb *layerBuilder) push(cp Checkpoint) {
	lb.block.Push(cp)
}

// flushBlock serializes and clears the pending block, returning a synthetic
// checkpoint describing the byte range it now occupies in the buffer. It
// returns ok=false if the block was empty.
func (lb *layerBuilder) flushBlock() (Checkpoint, bool) {
	if lb.block.Len() == 0 {
		return Checkpoint{}, false
	}
	first := lb.block.checkpoints[0].FirstDoc
	last := lb.block.checkpoints[lb.block.Len()-1].LastDoc
	startOffset := uint64(len(lb.buffer))
	lb.buffer = lb.block.Serialize(lb.buffer)
	endOffset := uint64(len(lb.buffer))
	lb.block.Clear()
	return Checkpoint{
		FirstDoc:    first,
		LastDoc:     last,
		StartOffset: startOffset,
		EndOffset:   endOffset,
	}, true
}

// insert pushes cp and, if the block just reached PERIOD entries, flushes it
// and returns the resulting skip pointer to cascade into the next layer.
func (lb *layerBuilder) insert(cp Checkpoint) (Checkpoint, bool) {
	lb.push(cp)
	if lb.block.Len() == PERIOD {
		return lb.flushBlock()
	}
	return Checkpoint{}, false
}

// SkipIndexBuilder stacks layerBuilders into a logarithmic tower, growing
// the tower lazily as cascading skip pointers demand a new level.
type SkipIndexBuilder struct {
	layers []*layerBuilder
}

// NewSkipIndexBuilder returns an empty builder.
func NewSkipIndexBuilder() *SkipIndexBuilder {
	return &SkipIndexBuilder{}
}

func (sb *SkipIndexBuilder) layer(id int) *layerBuilder {
	for id >= len(sb.layers) {
		sb.layers = append(sb.layers, newLayerBuilder())
	}
	return sb.layers[id]
}

// Insert feeds cp into layer 0, cascading any resulting skip pointer into
// successively higher layers until one stops producing a pointer.
func (sb *SkipIndexBuilder) Insert(cp Checkpoint) {
	pending, ok := cp, true
	for layerID := 0; ok; layerID++ {
		pending, ok = sb.layer(layerID).insert(pending)
	}
}

// Write finalizes the tower: it flushes every layer's pending tail block
// (promoting one last skip pointer per level), reverses the layers so the
// topmost (smallest) layer comes first, and returns the serialized form:
//
//	[varint N][varint S_0]...[varint S_{N-1}][layer_0]...[layer_{N-1}]
//
// where layer_i occupies [S_{i-1}, S_i) in the concatenated payload that
// follows the header (S_{-1} = 0).
func (sb *SkipIndexBuilder) Write() []byte {
	var lastPointer Checkpoint
	havePointer := false
	for _, layer := range sb.layers {
		if havePointer {
			layer.push(lastPointer)
		}
		lastPointer, havePointer = layer.flushBlock()
	}

	buffers := make([][]byte, len(sb.layers))
	for i := len(sb.layers) - 1; i >= 0; i-- {
		buffers[len(sb.layers)-1-i] = sb.layers[i].buffer
	}

	cumulative := make([]uint64, len(buffers))
	var running uint64
	for i, buf := range buffers {
		running += uint64(len(buf))
		cumulative[i] = running
	}

	out := putVarintSlice(nil, cumulative)
	for _, buf := range buffers {
		out = append(out, buf...)
	}
	return out
}
