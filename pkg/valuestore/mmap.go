// pkg/valuestore/mmap.go
// Memory-mapped file access, generalized from fixed-size database pages
// to an append-only value segment file. Platform-specific implementations
// are in mmap_unix.go and mmap_windows.go.
package valuestore

// mmapFile provides memory-mapped, growable file access to one value
// segment.
type mmapFile struct {
	file interface{} // *os.File on Unix, windows.Handle wrapper on Windows
	data []byte
	size int64
}

// Size returns the current mapped size in bytes.
func (m *mmapFile) Size() int64 {
	return m.size
}

// Slice returns a view into the mapped memory at [offset, offset+length).
// Returns nil if the requested range is out of bounds.
func (m *mmapFile) Slice(offset, length int) []byte {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil
	}
	return m.data[offset : offset+length]
}
