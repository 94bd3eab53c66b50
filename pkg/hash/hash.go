// Package hash provides the domain-separated hash state used to derive
// session IDs and to build the message pre-hash that gets signed (see
// spec.md §4.2). It wraps BLAKE3, matching the vendored dependency the
// teacher pins via a replace directive.
package hash

import (
	"encoding/binary"
	"io"

	"github.com/zeebo/blake3"
)

// WriterToWithDomain is a value that can write itself into a hash state,
// tagged with a domain string so that two differently-typed values that
// happen to serialize to the same bytes never collide.
type WriterToWithDomain interface {
	io.WriterTo
	Domain() string
}

// BytesWithDomain wraps a raw byte slice so it can be written with a
// domain tag.
type BytesWithDomain struct {
	TheDomain string
	Bytes     []byte
}

func (b BytesWithDomain) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Bytes)
	return int64(n), err
}

func (b BytesWithDomain) Domain() string { return b.TheDomain }

// Hash is a cloneable, domain-separating hash state.
type Hash struct {
	state *blake3.Hasher
}

// New returns a fresh, empty Hash.
func New() *Hash {
	return &Hash{state: blake3.New()}
}

// Clone returns an independent copy of the current hash state.
func (h *Hash) Clone() *Hash {
	return &Hash{state: h.state.Clone()}
}

// WriteAny writes a domain-tagged value into the hash state as
// "(" + domain + length-prefixed-bytes + ")", so that the boundary between
// the domain tag and the data, and between successive writes, can never be
// confused by an attacker choosing the data.
func (h *Hash) WriteAny(values ...WriterToWithDomain) error {
	for _, v := range values {
		if _, err := h.state.Write([]byte("(")); err != nil {
			return err
		}
		if _, err := h.state.Write([]byte(v.Domain())); err != nil {
			return err
		}
		var buf countingWriter
		if _, err := v.WriteTo(&buf); err != nil {
			return err
		}
		var lenPrefix [8]byte
		binary.BigEndian.PutUint64(lenPrefix[:], uint64(buf.n))
		if _, err := h.state.Write(lenPrefix[:]); err != nil {
			return err
		}
		if _, err := v.WriteTo(h.state); err != nil {
			return err
		}
		if _, err := h.state.Write([]byte(")")); err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes is a convenience wrapper for writing a raw, domain-tagged byte
// slice.
func (h *Hash) WriteBytes(domain string, b []byte) error {
	return h.WriteAny(BytesWithDomain{TheDomain: domain, Bytes: b})
}

// Sum finalizes a clone of the current state into a 32-byte digest,
// leaving the receiver untouched.
func (h *Hash) Sum() []byte {
	out := make([]byte, 32)
	h.state.Clone().Digest().Read(out)
	return out
}

// Digest returns an io.Reader producing an arbitrary-length output from a
// clone of the current state, without consuming the receiver.
func (h *Hash) Digest() io.Reader {
	return h.state.Clone().Digest()
}

type countingWriter struct{ n int }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}
