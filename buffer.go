package reactor

import (
	"bytes"
	"encoding/binary"
)

// ByteBuffer is a double-buffered append/discard/read byte container.
//
// It holds two byte sequences, the read-half and the write-half, plus
// an offset into the read-half. The logical length is
// (len(readHalf)-offset)+len(writeHalf). Appends go to the write-half;
// reads/discards come from the read-half. When the offset reaches the
// end of the read-half, the halves swap: the old write-half becomes the
// new read-half and the write-half is reset to empty. This avoids the
// repeated O(n) shift a single growing/shrinking slice would incur.
//
// ByteBuffer is not safe for concurrent use; callers needing concurrent
// access (e.g. Connection) must hold their own lock around it.
type ByteBuffer struct {
	readHalf  []byte
	writeHalf []byte
	offset    int
}

// NewByteBuffer returns an empty buffer.
func NewByteBuffer() *ByteBuffer {
	return &ByteBuffer{}
}

// Len returns the logical length of the buffer.
func (b *ByteBuffer) Len() int {
	return (len(b.readHalf) - b.offset) + len(b.writeHalf)
}

// Empty reports whether the buffer holds no bytes.
func (b *ByteBuffer) Empty() bool {
	return b.Len() == 0
}

// Append adds p to the end of the logical buffer. p is copied.
func (b *ByteBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.writeHalf = append(b.writeHalf, p...)
}

// maybeSwap promotes the write-half to the read-half once the read-half
// is fully consumed.
func (b *ByteBuffer) maybeSwap() {
	if b.offset >= len(b.readHalf) {
		b.readHalf = b.writeHalf
		b.writeHalf = nil
		b.offset = 0
	}
}

// Discard removes up to n bytes from the front of the logical buffer.
// It returns the number of bytes actually discarded.
func (b *ByteBuffer) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	total := b.Len()
	if n > total {
		n = total
	}
	remaining := n
	for remaining > 0 {
		avail := len(b.readHalf) - b.offset
		if avail == 0 {
			b.maybeSwap()
			avail = len(b.readHalf) - b.offset
			if avail == 0 {
				break
			}
		}
		take := remaining
		if take > avail {
			take = avail
		}
		b.offset += take
		remaining -= take
		b.maybeSwap()
	}
	return n - remaining
}

// Read returns a contiguous copy of up to n bytes from the front of the
// logical buffer, and discards them. A read spanning the read/write-half
// boundary is assembled into a single contiguous slice, recursively
// continuing into the post-swap buffer.
func (b *ByteBuffer) Read(n int) []byte {
	if n <= 0 {
		return nil
	}
	total := b.Len()
	if n > total {
		n = total
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		avail := len(b.readHalf) - b.offset
		if avail == 0 {
			b.maybeSwap()
			avail = len(b.readHalf) - b.offset
			if avail == 0 {
				break
			}
		}
		take := n - len(out)
		if take > avail {
			take = avail
		}
		out = append(out, b.readHalf[b.offset:b.offset+take]...)
		b.offset += take
		b.maybeSwap()
	}
	return out
}

// shortBufferError is returned by ReadByte and the fixed-width integer
// readers when fewer than the required number of bytes remain.
type shortBufferError struct{ need, have int }

func (e *shortBufferError) Error() string {
	return "reactor: short buffer"
}

// ReadByte reads a single byte, interpreted as unsigned unless signed
// is true (in which case the return value is sign-extended into an
// int32 via int8).
func (b *ByteBuffer) ReadByte(signed bool) (int32, error) {
	if b.Len() < 1 {
		return 0, &shortBufferError{need: 1, have: b.Len()}
	}
	p := b.Read(1)
	if signed {
		return int32(int8(p[0])), nil
	}
	return int32(p[0]), nil
}

// ReadShort reads a big-endian 16-bit unsigned integer.
func (b *ByteBuffer) ReadShort() (uint16, error) {
	if b.Len() < 2 {
		return 0, &shortBufferError{need: 2, have: b.Len()}
	}
	p := b.Read(2)
	return binary.BigEndian.Uint16(p), nil
}

// ReadInt reads a big-endian 32-bit unsigned integer.
func (b *ByteBuffer) ReadInt() (uint32, error) {
	if b.Len() < 4 {
		return 0, &shortBufferError{need: 4, have: b.Len()}
	}
	p := b.Read(4)
	return binary.BigEndian.Uint32(p), nil
}

// CheapPeek returns a contiguous prefix of the logical buffer without
// allocation or copy, up to the end of the current read-half. It may be
// shorter than Len() when the remaining bytes live in the write-half;
// callers needing the full logical buffer should Read instead. The
// returned slice always aliases the read-half, whatever readonly says:
// mutating it in place changes what subsequent reads return.
func (b *ByteBuffer) CheapPeek(readonly bool) []byte {
	if b.offset >= len(b.readHalf) {
		b.maybeSwap()
	}
	p := b.readHalf[b.offset:]
	if readonly {
		return p
	}
	return p
}

// Index returns the position of the first occurrence of sub in the
// logical buffer at or after start, or -1 if not found. A match
// spanning the read/write-half boundary is still found.
func (b *ByteBuffer) Index(sub []byte, start int) int {
	if len(sub) == 0 {
		return start
	}
	flat := b.flatten()
	if start < 0 {
		start = 0
	}
	if start > len(flat) {
		return -1
	}
	idx := bytes.Index(flat[start:], sub)
	if idx < 0 {
		return -1
	}
	return idx + start
}

// Update overwrites bytes starting at an absolute logical position,
// potentially spanning the read/write-half boundary. Writes that would
// extend past the logical length are clamped.
func (b *ByteBuffer) Update(loc int, p []byte) {
	if loc < 0 || len(p) == 0 {
		return
	}
	total := b.Len()
	if loc >= total {
		return
	}
	end := loc + len(p)
	if end > total {
		end = total
		p = p[:end-loc]
	}
	readLen := len(b.readHalf) - b.offset
	for i, v := range p {
		pos := loc + i
		if pos < readLen {
			b.readHalf[b.offset+pos] = v
		} else {
			b.writeHalf[pos-readLen] = v
		}
	}
}

// Equal reports whether b and other hold identical logical byte
// sequences.
func (b *ByteBuffer) Equal(other *ByteBuffer) bool {
	if b.Len() != other.Len() {
		return false
	}
	return bytes.Equal(b.flatten(), other.flatten())
}

// flatten returns a fresh contiguous copy of the entire logical buffer,
// without mutating b's cursors.
func (b *ByteBuffer) flatten() []byte {
	readLen := len(b.readHalf) - b.offset
	out := make([]byte, 0, readLen+len(b.writeHalf))
	out = append(out, b.readHalf[b.offset:]...)
	out = append(out, b.writeHalf...)
	return out
}

// Bytes returns a fresh copy of the entire logical buffer's contents
// without consuming them.
func (b *ByteBuffer) Bytes() []byte {
	return b.flatten()
}
