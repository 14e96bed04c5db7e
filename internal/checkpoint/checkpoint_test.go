package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/topk"
)

func sample() *Checkpoint {
	fp := Fingerprint{BFDim: 4, MinHW: 1, MaxHW: 2, Alphabet: "binary", N: 16, Q: 3329, Samples: "abc"}
	cp := Fresh(fp, 10)
	cp.Remaining = []enum.Range{{Lo: 5, Hi: 10}}
	cp.Cursor = 5
	cp.Processed = 5
	cp.Consumed = 400
	cp.Top = []topk.Entry{
		{Candidate: enum.Candidate{Index: 2, Support: []int{2}, Signs: []int8{1}}, Score: 0.95},
		{Candidate: enum.Candidate{Index: 4, Support: []int{0, 1}, Signs: []int8{1, -1}}, Score: 0.5},
	}
	cp.CreatedAt = cp.CreatedAt.Truncate(time.Second)
	return cp
}

func TestEncodeDecode_AllCodecs(t *testing.T) {
	for _, c := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(c.String(), func(t *testing.T) {
			cp := sample()
			data, err := Encode(cp, c)
			require.NoError(t, err)
			got, _, err := Decode(data)
			require.NoError(t, err)
			if diff := cmp.Diff(cp, got); diff != "" {
				t.Fatalf("round trip differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Corrupt(t *testing.T) {
	data, err := Encode(sample(), CodecZstd)
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0xff
	_, _, err = Decode(flipped)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, _, err = Decode(data[:10])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, _, err = Decode(append([]byte("XXXX"), data[4:]...))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestEncode_MagicBytes(t *testing.T) {
	data, err := Encode(sample(), CodecNone)
	require.NoError(t, err)
	assert.Equal(t, "CPKC", string(data[:4]))
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, c)
	c, err = ParseCodec("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)
	_, err = ParseCodec("gzip")
	assert.Error(t, err)
}

func TestManager_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", FileName)
	m, err := Open(path, CodecZstd, 0)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	cp := sample()
	require.NoError(t, m.Save(cp))
	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, cp.Remaining, got.Remaining)
	assert.Equal(t, cp.Top, got.Top)

	cp.Remaining = nil
	cp.Processed = 10
	require.NoError(t, m.Save(cp))
	got, err = Load(path)
	require.NoError(t, err)
	assert.True(t, got.Done())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file left behind")
	}

	require.NoError(t, m.Remove())
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	m, err := Open(path, CodecNone, 0)
	require.NoError(t, err)

	_, err = Open(path, CodecNone, 0)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, m.Close())
	m2, err := Open(path, CodecNone, 0)
	require.NoError(t, err)
	require.NoError(t, m2.Close())
}

func TestValidate(t *testing.T) {
	cp := sample()
	assert.NoError(t, cp.Validate(cp.Fingerprint))

	fp := cp.Fingerprint
	fp.MaxHW = 3
	fp.Samples = "other"
	err := cp.Validate(fp)
	assert.ErrorIs(t, err, ErrConfigMismatch)
	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, []string{"max_bf_hw", "samples"}, mm.Fields)
}

func TestFresh(t *testing.T) {
	cp := Fresh(Fingerprint{}, 0)
	assert.True(t, cp.Done())
	cp = Fresh(Fingerprint{}, 7)
	assert.False(t, cp.Done())
	assert.Equal(t, []enum.Range{{Lo: 0, Hi: 7}}, cp.Remaining)
}

func TestComplete_CountsFailedRanges(t *testing.T) {
	cp := Fresh(Fingerprint{}, 7)
	assert.False(t, cp.Complete())

	cp.Remaining = nil
	cp.Failed = []enum.Range{{Lo: 2, Hi: 7}}
	assert.True(t, cp.Done())
	assert.False(t, cp.Complete())

	cp.Failed = nil
	assert.True(t, cp.Complete())
}
