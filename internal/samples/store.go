// Package samples loads LWE sample matrices (A, b) and presents them as
// immutable batches shared read-only by every scoring worker.
package samples

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/tuneinsight/lattigo/v5/utils/sampling"
)

// Batch is an ordered, immutable set of LWE samples (a_i, b_i) over Z_q^n.
//
// A Batch returned by Slice shares storage with its parent. Callers must not
// modify the slices returned by Row, Column or B.
type Batch struct {
	N    int
	Q    uint64
	Rows int

	a []uint64 // row-major, Rows*N
	b []uint64

	colsOnce sync.Once
	cols     []uint64 // column-major copy of a, built on first use
}

// NewBatch builds a batch from row-major A values and b values, validating
// shapes and the [0, q) range.
func NewBatch(n int, q uint64, a, b []uint64) (*Batch, error) {
	if n <= 0 || len(a)%n != 0 {
		return nil, &FormatError{Path: "<memory>", Reason: fmt.Sprintf("A has %d values, not a multiple of n=%d", len(a), n)}
	}
	rows := len(a) / n
	if len(b) != rows {
		return nil, &FormatError{Path: "<memory>", Reason: fmt.Sprintf("A has %d rows but b has %d", rows, len(b))}
	}
	for i, v := range a {
		if v >= q {
			return nil, &RangeError{Path: "<memory>:A", Index: i, Value: int64(v), Q: q}
		}
	}
	for i, v := range b {
		if v >= q {
			return nil, &RangeError{Path: "<memory>:b", Index: i, Value: int64(v), Q: q}
		}
	}
	return &Batch{N: n, Q: q, Rows: rows, a: a, b: b}, nil
}

// FileNames returns the conventional A and b file names for (n, logq).
func FileNames(n, logq int) (aName, bName string) {
	return fmt.Sprintf("origA_n%d_logq%d.npy", n, logq), fmt.Sprintf("b_n%d_logq%d.npy", n, logq)
}

// Load reads the conventionally named A and b files from dir.
// A compressed variant (".npy.zst") is used when the plain file is missing.
func Load(dir string, n int, q uint64) (*Batch, error) {
	aPath, bPath := dirFiles(dir, n, q)
	return LoadFiles(aPath, bPath, n, q)
}

// LoadUnchecked is Load without the [0, q) value check.
func LoadUnchecked(dir string, n int, q uint64) (*Batch, error) {
	aPath, bPath := dirFiles(dir, n, q)
	return LoadFilesUnchecked(aPath, bPath, n, q)
}

func dirFiles(dir string, n int, q uint64) (aPath, bPath string) {
	aName, bName := FileNames(n, logQ(q))
	return resolve(filepath.Join(dir, aName)), resolve(filepath.Join(dir, bName))
}

// LoadFiles reads A (rows × n) and b (rows) from explicit paths.
func LoadFiles(aPath, bPath string, n int, q uint64) (*Batch, error) {
	return loadFiles(aPath, bPath, n, q, true)
}

// LoadFilesUnchecked is LoadFiles without the [0, q) value check, for callers
// that validate each sub-batch with Validate and drop the bad ones. Shape and
// dtype errors are still reported.
func LoadFilesUnchecked(aPath, bPath string, n int, q uint64) (*Batch, error) {
	return loadFiles(aPath, bPath, n, q, false)
}

func loadFiles(aPath, bPath string, n int, q uint64, strict bool) (*Batch, error) {
	if err := checkModulusInName(aPath, q); err != nil {
		return nil, err
	}
	aArr, err := readNPYFile(aPath)
	if err != nil {
		return nil, err
	}
	if len(aArr.Shape) != 2 || aArr.Shape[1] != n {
		return nil, &FormatError{Path: aPath, Reason: fmt.Sprintf("want shape (rows, %d), got %v", n, aArr.Shape)}
	}
	rows := aArr.Shape[0]
	if rows == 0 {
		return nil, &FormatError{Path: aPath, Reason: "no samples"}
	}
	bArr, err := readNPYFile(bPath)
	if err != nil {
		return nil, err
	}
	if !(len(bArr.Shape) == 1 || (len(bArr.Shape) == 2 && bArr.Shape[1] == 1)) || bArr.Shape[0] != rows {
		return nil, &FormatError{Path: bPath, Reason: fmt.Sprintf("want shape (%d,), got %v", rows, bArr.Shape)}
	}
	a, err := toResidues(aPath, aArr.Data, q, strict)
	if err != nil {
		return nil, err
	}
	b, err := toResidues(bPath, bArr.Data, q, strict)
	if err != nil {
		return nil, err
	}
	return &Batch{N: n, Q: q, Rows: rows, a: a, b: b}, nil
}

// toResidues converts data to uint64. Without strict, values outside [0, q)
// are kept; negative ones wrap above 2^63 and so still fail Validate.
func toResidues(path string, data []int64, q uint64, strict bool) ([]uint64, error) {
	out := make([]uint64, len(data))
	for i, v := range data {
		if strict && (v < 0 || uint64(v) >= q) {
			return nil, &RangeError{Path: path, Index: i, Value: v, Q: q}
		}
		out[i] = uint64(v)
	}
	return out, nil
}

// Validate checks that every value of the batch lies in [0, q). Indices in
// the returned *RangeError are relative to the batch.
func (b *Batch) Validate() error {
	for i, v := range b.a {
		if v >= b.Q {
			return &RangeError{Path: "A", Index: i, Value: int64(v), Q: b.Q}
		}
	}
	for i, v := range b.b {
		if v >= b.Q {
			return &RangeError{Path: "b", Index: i, Value: int64(v), Q: b.Q}
		}
	}
	return nil
}

var logqPattern = regexp.MustCompile(`_logq(\d+)`)

// checkModulusInName rejects files whose conventional name announces a
// different modulus size than the configured q.
func checkModulusInName(path string, q uint64) error {
	m := logqPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil
	}
	got, _ := strconv.Atoi(m[1])
	if got != logQ(q) {
		return &FormatError{Path: path, Reason: fmt.Sprintf("file is for logq=%d but q=%d has logq=%d", got, q, logQ(q))}
	}
	return nil
}

// Slice returns a read-only view of count samples starting at offset.
func (b *Batch) Slice(offset, count int) (*Batch, error) {
	if offset < 0 || count < 0 || offset+count > b.Rows {
		return nil, fmt.Errorf("%w: slice [%d, %d) of %d rows", ErrRange, offset, offset+count, b.Rows)
	}
	return &Batch{
		N:    b.N,
		Q:    b.Q,
		Rows: count,
		a:    b.a[offset*b.N : (offset+count)*b.N],
		b:    b.b[offset : offset+count],
	}, nil
}

// Split cuts the first min(Rows, budget) samples into consecutive views of at
// most size rows each.
func (b *Batch) Split(size, budget int) []*Batch {
	total := b.Rows
	if budget > 0 && budget < total {
		total = budget
	}
	var out []*Batch
	for off := 0; off < total; off += size {
		n := size
		if off+n > total {
			n = total - off
		}
		v, _ := b.Slice(off, n)
		out = append(out, v)
	}
	return out
}

// Row returns a_i.
func (b *Batch) Row(i int) []uint64 {
	return b.a[i*b.N : (i+1)*b.N]
}

// A returns a_ij.
func (b *Batch) A(i, j int) uint64 {
	return b.a[i*b.N+j]
}

// B returns the b vector.
func (b *Batch) B() []uint64 {
	return b.b
}

// Column returns column j of A (all a_ij for fixed j). The column-major copy
// is computed once per batch and shared by all callers.
func (b *Batch) Column(j int) []uint64 {
	b.colsOnce.Do(func() {
		cols := make([]uint64, len(b.a))
		for i := 0; i < b.Rows; i++ {
			row := b.a[i*b.N : (i+1)*b.N]
			for k, v := range row {
				cols[k*b.Rows+i] = v
			}
		}
		b.cols = cols
	})
	return b.cols[j*b.Rows : (j+1)*b.Rows]
}

// Bytes returns the footprint of the batch data in bytes, including the
// column-major copy that Column will build.
func (b *Batch) Bytes() int64 {
	return int64(2*len(b.a)+len(b.b)) * 8
}

// Permute returns a copy of the batch with rows shuffled by a Fisher-Yates
// permutation drawn from a keyed PRNG seeded with seed. The same seed always
// yields the same order.
func (b *Batch) Permute(seed int64) (*Batch, error) {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, uint64(seed))
	prng, err := sampling.NewKeyedPRNG(key)
	if err != nil {
		return nil, fmt.Errorf("cannot seed permutation: %w", err)
	}
	perm := make([]int, b.Rows)
	for i := range perm {
		perm[i] = i
	}
	buf := make([]byte, 8)
	for i := len(perm) - 1; i > 0; i-- {
		j, err := uniform(prng, buf, uint64(i+1))
		if err != nil {
			return nil, err
		}
		perm[i], perm[j] = perm[j], perm[i]
	}

	a := make([]uint64, len(b.a))
	bb := make([]uint64, len(b.b))
	for dst, src := range perm {
		copy(a[dst*b.N:(dst+1)*b.N], b.Row(src))
		bb[dst] = b.b[src]
	}
	return &Batch{N: b.N, Q: b.Q, Rows: b.Rows, a: a, b: bb}, nil
}

// uniform draws an unbiased value in [0, bound) by rejection sampling.
func uniform(prng sampling.PRNG, buf []byte, bound uint64) (uint64, error) {
	limit := ^uint64(0) - ^uint64(0)%bound
	for {
		if _, err := prng.Read(buf); err != nil {
			return 0, fmt.Errorf("cannot read PRNG: %w", err)
		}
		v := binary.LittleEndian.Uint64(buf)
		if v < limit {
			return v % bound, nil
		}
	}
}

func logQ(q uint64) int {
	return bits.Len64(q - 1)
}

// resolve prefers path and falls back to path+".zst" when only the compressed
// file exists.
func resolve(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if _, err := os.Stat(path + ".zst"); err == nil {
		return path + ".zst"
	}
	return path
}
