// pkg/locator/locator.go
// Package locator defines the opaque address type the Sorted Spine carries
// alongside each key and the Value Store resolves to bytes: a total
// function locator -> bytes. Neither the spine nor its callers interpret
// the fields, only the Value Store does.
package locator

// Locator addresses a value's bytes within the Value Store: a segment
// file id, the byte offset of its record within that segment, and the
// payload length.
type Locator struct {
	SegmentID uint32
	Offset    int64
	Len       uint32
}

// Zero reports whether l is the unset (zero-value) locator. Tombstoned
// spine slots are tracked separately and keep their locator.
func (l Locator) Zero() bool {
	return l == Locator{}
}
