package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteBuffer_AppendReadRoundTrip(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("hello"))
	require.Equal(t, 5, b.Len())
	require.Equal(t, []byte("hello"), b.Read(5))
	require.True(t, b.Empty())
}

func TestByteBuffer_ReadSpansBoundary(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("abc"))
	// force the read-half/write-half swap by reading past the read-half.
	require.Equal(t, []byte("ab"), b.Read(2))
	b.Append([]byte("def"))
	// logical buffer is now "c" + "def" = "cdef", spanning the boundary.
	require.Equal(t, []byte("cdef"), b.Read(4))
	require.True(t, b.Empty())
}

func TestByteBuffer_DiscardSpansBoundary(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("abcde"))
	b.Read(3) // consume "abc", offset now mid read-half
	b.Append([]byte("fg"))
	n := b.Discard(10) // logical length is "de"+"fg" == 4
	require.Equal(t, 4, n)
	require.True(t, b.Empty())
}

func TestByteBuffer_ReadMoreThanAvailableClamps(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("ab"))
	require.Equal(t, []byte("ab"), b.Read(100))
}

func TestByteBuffer_ReadByte(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte{0xFF})
	b2 := NewByteBuffer()
	b2.Append([]byte{0xFF})

	v, err := b.ReadByte(false)
	require.NoError(t, err)
	require.Equal(t, int32(255), v)

	v2, err := b2.ReadByte(true)
	require.NoError(t, err)
	require.Equal(t, int32(-1), v2)

	_, err = b.ReadByte(false)
	require.Error(t, err)
}

func TestByteBuffer_ReadShortAndInt(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte{0x01, 0x02})
	v, err := b.ReadShort()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0102), v)

	b2 := NewByteBuffer()
	b2.Append([]byte{0x00, 0x00, 0x01, 0x00})
	iv, err := b2.ReadInt()
	require.NoError(t, err)
	require.Equal(t, uint32(256), iv)

	b3 := NewByteBuffer()
	b3.Append([]byte{0x01})
	_, err = b3.ReadShort()
	require.Error(t, err)
	_, err = b3.ReadInt()
	require.Error(t, err)
}

func TestByteBuffer_CheapPeek(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("xyz"))
	p := b.CheapPeek(true)
	require.Equal(t, []byte("xyz"), p)
	require.Equal(t, 3, b.Len(), "CheapPeek must not consume bytes")
}

func TestByteBuffer_IndexSpansBoundary(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("abcde"))
	b.Read(3) // offset into read-half, logical remainder "de"
	b.Append([]byte("fgh"))
	// logical buffer is "defgh"; search for a substring spanning the
	// read-half/write-half boundary.
	require.Equal(t, 1, b.Index([]byte("efg"), 0))
	require.Equal(t, -1, b.Index([]byte("zzz"), 0))
	require.Equal(t, 0, b.Index([]byte(""), 0))
}

func TestByteBuffer_UpdateSpansBoundary(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("abcde"))
	b.Read(3) // offset consumed, logical remainder "de"
	b.Append([]byte("fgh"))
	// logical buffer is "defgh"; overwrite starting at position 1,
	// spanning the read-half ("e") / write-half ("fgh") boundary.
	b.Update(1, []byte("XYZ"))
	require.Equal(t, []byte("dXYZh"), b.Read(5))
}

func TestByteBuffer_UpdateClampsOverLength(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("ab"))
	b.Update(1, []byte("XYZ"))
	require.Equal(t, []byte("aX"), b.Read(2))
}

func TestByteBuffer_Equal(t *testing.T) {
	a := NewByteBuffer()
	a.Append([]byte("same"))
	b := NewByteBuffer()
	b.Append([]byte("sa"))
	b.Append([]byte("me"))
	require.True(t, a.Equal(b))

	c := NewByteBuffer()
	c.Append([]byte("diff"))
	require.False(t, a.Equal(c))
}

func TestByteBuffer_DiscardNegativeOrZeroIsNoop(t *testing.T) {
	b := NewByteBuffer()
	b.Append([]byte("abc"))
	require.Equal(t, 0, b.Discard(0))
	require.Equal(t, 0, b.Discard(-1))
	require.Equal(t, 3, b.Len())
}
