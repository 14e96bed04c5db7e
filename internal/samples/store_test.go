package samples

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePair(t *testing.T, dir string, n int, q uint64, rows int, aName, bName string) ([]int64, []int64) {
	t.Helper()
	a := make([]int64, rows*n)
	b := make([]int64, rows)
	for i := range a {
		a[i] = int64((i*7 + 3) % int(q))
	}
	for i := range b {
		b[i] = int64((i*11 + 5) % int(q))
	}
	require.NoError(t, WriteNPYFile(filepath.Join(dir, aName), []int{rows, n}, a))
	require.NoError(t, WriteNPYFile(filepath.Join(dir, bName), []int{rows}, b))
	return a, b
}

func TestLoad_ConventionalNames(t *testing.T) {
	dir := t.TempDir()
	aName, bName := FileNames(4, 7)
	assert.Equal(t, "origA_n4_logq7.npy", aName)
	a, b := writePair(t, dir, 4, 113, 10, aName, bName)

	batch, err := Load(dir, 4, 113)
	require.NoError(t, err)
	assert.Equal(t, 10, batch.Rows)
	assert.Equal(t, 4, batch.N)
	assert.Equal(t, uint64(a[2*4+1]), batch.A(2, 1))
	assert.Equal(t, uint64(b[9]), batch.B()[9])
}

func TestLoad_CompressedFallback(t *testing.T) {
	dir := t.TempDir()
	aName, bName := FileNames(3, 7)
	writePair(t, dir, 3, 101, 6, aName+".zst", bName+".zst")

	batch, err := Load(dir, 3, 101)
	require.NoError(t, err)
	assert.Equal(t, 6, batch.Rows)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, 4, 113)
	assert.ErrorIs(t, err, ErrNotFound)

	aName, bName := FileNames(4, 7)
	writePair(t, dir, 4, 113, 5, aName, bName)

	// dimension mismatch
	_, err = LoadFiles(filepath.Join(dir, aName), filepath.Join(dir, bName), 5, 113)
	assert.ErrorIs(t, err, ErrFormat)

	// modulus announced by the file name differs
	_, err = LoadFiles(filepath.Join(dir, aName), filepath.Join(dir, bName), 4, 4093)
	assert.ErrorIs(t, err, ErrFormat)

	// values >= q
	_, err = LoadFiles(filepath.Join(dir, aName), filepath.Join(dir, bName), 4, 65)
	assert.ErrorIs(t, err, ErrRange)

	// row count mismatch between A and b
	require.NoError(t, WriteNPYFile(filepath.Join(dir, "short_b.npy"), []int{3}, []int64{1, 2, 3}))
	_, err = LoadFiles(filepath.Join(dir, aName), filepath.Join(dir, "short_b.npy"), 4, 113)
	assert.ErrorIs(t, err, ErrFormat)

	// not an npy file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.npy"), []byte("hello world"), 0o644))
	_, err = LoadFiles(filepath.Join(dir, "junk.npy"), filepath.Join(dir, bName), 4, 113)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLoad_NegativeValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteNPYFile(filepath.Join(dir, "a.npy"), []int{1, 2}, []int64{1, -1}))
	require.NoError(t, WriteNPYFile(filepath.Join(dir, "b.npy"), []int{1}, []int64{0}))
	_, err := LoadFiles(filepath.Join(dir, "a.npy"), filepath.Join(dir, "b.npy"), 2, 17)
	var re *RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Index)
}

func TestSlice_IsView(t *testing.T) {
	batch, err := NewBatch(2, 17, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, []uint64{9, 10, 11, 12})
	require.NoError(t, err)

	v, err := batch.Slice(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Rows)
	assert.Equal(t, []uint64{3, 4}, v.Row(0))
	assert.Equal(t, []uint64{10, 11}, v.B())
	assert.Same(t, &batch.a[2], &v.a[0], "slice must share storage")

	_, err = batch.Slice(3, 2)
	assert.ErrorIs(t, err, ErrRange)
}

func TestSplit_RespectsBudget(t *testing.T) {
	a := make([]uint64, 10*2)
	b := make([]uint64, 10)
	batch, err := NewBatch(2, 5, a, b)
	require.NoError(t, err)

	parts := batch.Split(4, 9)
	require.Len(t, parts, 3)
	assert.Equal(t, 4, parts[0].Rows)
	assert.Equal(t, 4, parts[1].Rows)
	assert.Equal(t, 1, parts[2].Rows)
}

func TestColumn(t *testing.T) {
	batch, err := NewBatch(3, 17, []uint64{1, 2, 3, 4, 5, 6}, []uint64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 5}, batch.Column(1))
	assert.Equal(t, []uint64{3, 6}, batch.Column(2))
}

func TestPermute_Deterministic(t *testing.T) {
	a := make([]uint64, 50*2)
	b := make([]uint64, 50)
	for i := range b {
		a[2*i] = uint64(i)
		a[2*i+1] = uint64(i)
		b[i] = uint64(i)
	}
	batch, err := NewBatch(2, 97, a, b)
	require.NoError(t, err)

	p1, err := batch.Permute(7)
	require.NoError(t, err)
	p2, err := batch.Permute(7)
	require.NoError(t, err)
	p3, err := batch.Permute(8)
	require.NoError(t, err)

	assert.Equal(t, p1.B(), p2.B())
	assert.NotEqual(t, p1.B(), p3.B())
	assert.ElementsMatch(t, batch.B(), p1.B())
	for i := 0; i < p1.Rows; i++ {
		assert.Equal(t, p1.B()[i], p1.Row(i)[0], "rows must move together with b")
	}
	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())
	assert.NotEqual(t, batch.Fingerprint(), p1.Fingerprint())
}

func TestLoadArtifact(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ArtifactName(4, 113, "0.783"))
	require.NoError(t, os.WriteFile(p, []byte{1, 2, 3}, 0o644))

	art, err := LoadArtifact(p, 4, 113)
	require.NoError(t, err)
	assert.Equal(t, "0.783", art.Threshold)
	assert.Len(t, art.Digest(), 64)

	_, err = LoadArtifact(p, 8, 113)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = LoadArtifact(filepath.Join(dir, ArtifactName(4, 113, "0.9")), 4, 113)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSecret(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "secret.npy")
	require.NoError(t, WriteNPYFile(p, []int{4, 1}, []int64{0, 1, -1, 0}))

	s, err := LoadSecret(p, 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, -1, 0}, s)

	_, err = LoadSecret(p, 5)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLoadUnchecked_ValidatePerBatch(t *testing.T) {
	dir := t.TempDir()
	aName, bName := FileNames(2, 5)
	a := []int64{1, 2, 3, 4, 5, 40, 6, 7}
	b := []int64{0, 1, 2, -3}
	require.NoError(t, WriteNPYFile(filepath.Join(dir, aName), []int{4, 2}, a))
	require.NoError(t, WriteNPYFile(filepath.Join(dir, bName), []int{4}, b))

	_, err := Load(dir, 2, 17)
	assert.ErrorIs(t, err, ErrRange, "strict load rejects the whole file")

	batch, err := LoadUnchecked(dir, 2, 17)
	require.NoError(t, err)
	assert.ErrorIs(t, batch.Validate(), ErrRange)

	parts := batch.Split(1, 0)
	require.Len(t, parts, 4)
	assert.NoError(t, parts[0].Validate())
	assert.NoError(t, parts[1].Validate())
	var re *RangeError
	require.ErrorAs(t, parts[2].Validate(), &re)
	assert.Equal(t, "A", re.Path)
	assert.Equal(t, int64(40), re.Value)
	require.ErrorAs(t, parts[3].Validate(), &re)
	assert.Equal(t, "b", re.Path)
	assert.Equal(t, int64(-3), re.Value, "negative values survive the unchecked load")

	require.ErrorAs(t, batch.Split(4, 0)[0].Validate(), &re)
	assert.Equal(t, 5, re.Index)
}
