package player

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// IDSource supplies candidate player ids. Candidates may repeat; the
// registry rejects zero, live and retired ids.
type IDSource interface {
	NextID() (uint32, error)
}

// ReaderIDSource draws ids from an entropy reader such as /dev/urandom
type ReaderIDSource struct {
	mu     sync.Mutex
	r      io.Reader
	closer io.Closer
	buf    [4]byte
}

// NewReaderIDSource wraps r. Reads are serialized.
func NewReaderIDSource(r io.Reader) *ReaderIDSource {
	return &ReaderIDSource{r: r}
}

// OpenIDSource opens the entropy file at path. An empty path uses crypto/rand.
func OpenIDSource(path string) (*ReaderIDSource, error) {
	if path == "" {
		return NewReaderIDSource(rand.Reader), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entropy source %s: %w", path, err)
	}

	src := NewReaderIDSource(f)
	src.closer = f
	return src, nil
}

// NextID reads four bytes from the underlying reader
func (s *ReaderIDSource) NextID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read entropy: %w", err)
	}
	return binary.BigEndian.Uint32(s.buf[:]), nil
}

// Close closes the entropy file if OpenIDSource opened one
func (s *ReaderIDSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
