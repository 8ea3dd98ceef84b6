package message

import (
	"encoding/binary"
	"fmt"
)

// MaxFieldLength bounds every variable-length field so a peer cannot make us
// allocate arbitrary amounts of memory.
const MaxFieldLength = 64 << 10

// lengthPrefixSize is the size of the length prefix on variable fields.
const lengthPrefixSize = 4

// Writer builds a message encoding. Integers are fixed-width big-endian and
// variable fields are a 4-byte length followed by the raw bytes.
//
// The first error is sticky; check it once with Bytes.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a writer with capacity preallocated.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// PutUint8 appends a single byte.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint32 appends a big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// PutFixed appends raw bytes without a length prefix.
func (w *Writer) PutFixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutBytes appends a length-prefixed field.
func (w *Writer) PutBytes(b []byte) {
	if w.err != nil {
		return
	}
	if len(b) > MaxFieldLength {
		w.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(b))
		return
	}
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Bytes returns the encoding or the first error encountered.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Reader decodes what Writer produced. The first error is sticky; check it
// once with Finish, which also rejects trailing data.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader returns a reader over data. The data is not copied, but every
// byte slice returned by the reader is.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Fixed reads exactly n raw bytes.
func (r *Reader) Fixed(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Bytes reads a length-prefixed field. An empty field decodes as nil.
func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if n > MaxFieldLength {
		r.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, n)
		return nil
	}
	if n == 0 {
		return nil
	}
	return r.Fixed(int(n))
}

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Finish returns the first error, or ErrTrailingData if input remains.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, len(r.data)-r.off)
	}
	return nil
}
