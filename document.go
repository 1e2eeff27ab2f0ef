package blaze

// ═══════════════════════════════════════════════════════════════════════════════
// DOCUMENT: The Stored-Document Codec
// ═══════════════════════════════════════════════════════════════════════════════
// The skip index and the position stream are both byte-range/position oracles:
// neither one knows what a "document" actually looks like. Something still has
// to turn a document into bytes the store can compress and hand back on Get.
//
// A real deployment would plug in a schema-aware serializer (typed fields,
// stored vs. indexed-only, etc.) - that system is out of scope here. Document
// stands in for it with the simplest thing that satisfies the store's
// contract: an opaque, length-prefixed byte payload.
// ═══════════════════════════════════════════════════════════════════════════════

// Document is a single stored record: whatever opaque bytes the caller wants
// to get back out of the store for a given doc id.
type Document struct {
	Body []byte
}

// Serialize appends the document's on-disk form ([varint len][bytes]) to buf.
func (d Document) Serialize(buf []byte) []byte {
	buf = putVarint(buf, uint64(len(d.Body)))
	return append(buf, d.Body...)
}

// DeserializeDocument reads one Document from the front of c.
func DeserializeDocument(c *cursor) (Document, error) {
	n, err := c.readVarint()
	if err != nil {
		return Document{}, err
	}
	body, err := c.readBytes(int(n))
	if err != nil {
		return Document{}, err
	}
	// readBytes aliases c.data; copy so the Document outlives the cursor's
	// owning buffer being reused or discarded by the caller.
	owned := make([]byte, len(body))
	copy(owned, body)
	return Document{Body: owned}, nil
}
