package types

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a wire payload ends before a complete value.
var ErrTruncated = errors.New("types: truncated encoding")

// byteWriter accumulates the big-endian, length-prefixed wire form.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// lenBytes writes a u64 length prefix followed by the bytes.
func (w *byteWriter) lenBytes(b []byte) {
	w.u64(uint64(len(b)))
	w.raw(b)
}

// byteReader walks a wire payload, latching the first error.
type byteReader struct {
	data []byte
	off  int
	err  error
}

func (r *byteReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *byteReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *byteReader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = ErrTruncated
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out
}

// lenBytes reads a u64 length prefix and that many bytes.
func (r *byteReader) lenBytes() []byte {
	n := r.u64()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.data)-r.off) {
		r.err = ErrTruncated
		return nil
	}
	return r.raw(int(n))
}

func (r *byteReader) digest() Digest {
	var d Digest
	b := r.raw(DigestLength)
	if r.err == nil {
		copy(d[:], b)
	}
	return d
}

func (r *byteReader) address() Address {
	var a Address
	b := r.raw(AddressLength)
	if r.err == nil {
		copy(a.Payload[:], b)
	}
	return a
}
