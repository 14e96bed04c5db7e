package samples

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// npyBytes builds a version 1.0 file with the given shape literal and payload.
func npyBytes(shape string, payload []byte) []byte {
	h := "{'descr': '<i8', 'fortran_order': False, 'shape': " + shape + ", }"
	for (10+len(h)+1)%64 != 0 {
		h += " "
	}
	h += "\n"
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(h)))
	buf.WriteString(h)
	buf.Write(payload)
	return buf.Bytes()
}

func TestReadNPY_OversizedShape(t *testing.T) {
	for _, shape := range []string{
		"(2305843009213693952, 4)",
		"(4294967296, 4294967296)",
		"(9223372036854775807,)",
	} {
		_, err := readNPY(bytes.NewReader(npyBytes(shape, make([]byte, 16))), -1)
		assert.ErrorIs(t, err, ErrFormat, shape)
	}
}

func TestReadNPY_ShapeLargerThanFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "huge.npy")
	require.NoError(t, os.WriteFile(p, npyBytes("(10000000000, 32)", make([]byte, 64)), 0o644))

	_, err := readNPYFile(p)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, p, fe.Path)
	assert.Contains(t, fe.Reason, "file has")
}

func TestReadNPY_TruncatedCompressedPayload(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "huge.npy.zst")
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(npyBytes("(100000000, 32)", make([]byte, 64)))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))

	_, err = readNPYFile(p)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadNPY_HeaderTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{2, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1<<30))
	_, err := readNPY(&buf, -1)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadNPY_ExactPayload(t *testing.T) {
	payload := make([]byte, 3*8)
	binary.LittleEndian.PutUint64(payload[8:], 42)
	arr, err := readNPY(bytes.NewReader(npyBytes("(3,)", payload)), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, []int{3}, arr.Shape)
	assert.Equal(t, []int64{0, 42, 0}, arr.Data)
}
