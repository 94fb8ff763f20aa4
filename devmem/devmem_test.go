package devmem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	before := BytesAlive()
	s := New(100, true)
	require.Equal(t, before+100, BytesAlive())
	require.Equal(t, 100, s.Size())
	require.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(s.Bytes())))%Alignment)

	require.True(t, s.WriteAt([]byte{1, 2, 3}, 97))
	require.False(t, s.WriteAt([]byte{1, 2, 3}, 98))
	dst := make([]byte, 3)
	require.True(t, s.ReadAt(dst, 97))
	require.Equal(t, []byte{1, 2, 3}, dst)
	require.Len(t, s.Float32s(), 25)
	require.Len(t, s.Uint16s(), 50)

	s.Free()
	require.Equal(t, before, BytesAlive())
	require.Nil(t, s.Bytes())
	require.False(t, s.ReadAt(dst, 0))
	s.Free() // Second free is a no-op.
	require.Equal(t, before, BytesAlive())
}
