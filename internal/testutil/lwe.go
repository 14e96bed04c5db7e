// Package testutil builds synthetic reduced LWE instances for tests.
package testutil

import (
	"math/rand"
	"path/filepath"

	"github.com/kamusis/cc-attack/internal/samples"
)

// Instance describes a synthetic instance. Columns [0, Cruel) of A are uniform
// mod Q; the remaining columns mimic the output of lattice reduction and hold
// small centered values in [-CoolBound, CoolBound]. Errors are in
// [-ErrBound, ErrBound].
type Instance struct {
	N         int
	Q         uint64
	Rows      int
	Cruel     int
	CoolBound int
	ErrBound  int
	Seed      int64
	Secret    []int64 // length N; generated when nil
	Weight    int     // nonzero entries when Secret is generated
	CruelHW   int     // how many of them fall in the cruel part
	Ternary   bool
}

// Build returns the samples and the secret.
func (in Instance) Build() (*samples.Batch, []int64) {
	rng := rand.New(rand.NewSource(in.Seed))
	secret := in.Secret
	if secret == nil {
		secret = make([]int64, in.N)
		place := func(lo, hi, count int) {
			perm := rng.Perm(hi - lo)
			for _, p := range perm[:count] {
				v := int64(1)
				if in.Ternary && rng.Intn(2) == 0 {
					v = -1
				}
				secret[lo+p] = v
			}
		}
		place(0, in.Cruel, in.CruelHW)
		place(in.Cruel, in.N, in.Weight-in.CruelHW)
	}

	q := int64(in.Q)
	a := make([]uint64, in.Rows*in.N)
	b := make([]uint64, in.Rows)
	for i := 0; i < in.Rows; i++ {
		var dot int64
		for j := 0; j < in.N; j++ {
			var v int64
			if j < in.Cruel {
				v = rng.Int63n(q)
			} else {
				v = int64(rng.Intn(2*in.CoolBound+1) - in.CoolBound)
			}
			a[i*in.N+j] = uint64(mod(v, q))
			dot += v * secret[j]
		}
		e := int64(0)
		if in.ErrBound > 0 {
			e = int64(rng.Intn(2*in.ErrBound+1) - in.ErrBound)
		}
		b[i] = uint64(mod(dot+e, q))
	}
	batch, err := samples.NewBatch(in.N, in.Q, a, b)
	if err != nil {
		panic(err)
	}
	return batch, secret
}

// WriteDir writes the instance under dir with conventional file names and a
// secret.npy, returning the batch and the secret.
func (in Instance) WriteDir(dir string) (*samples.Batch, []int64, error) {
	batch, secret := in.Build()
	logq := 0
	for v := in.Q - 1; v > 0; v >>= 1 {
		logq++
	}
	aName, bName := samples.FileNames(in.N, logq)
	a := make([]int64, batch.Rows*batch.N)
	bv := make([]int64, batch.Rows)
	for i := 0; i < batch.Rows; i++ {
		for j, v := range batch.Row(i) {
			a[i*batch.N+j] = int64(v)
		}
		bv[i] = int64(batch.B()[i])
	}
	if err := samples.WriteNPYFile(filepath.Join(dir, aName), []int{batch.Rows, batch.N}, a); err != nil {
		return nil, nil, err
	}
	if err := samples.WriteNPYFile(filepath.Join(dir, bName), []int{batch.Rows}, bv); err != nil {
		return nil, nil, err
	}
	if err := samples.WriteNPYFile(filepath.Join(dir, "secret.npy"), []int{in.N}, secret); err != nil {
		return nil, nil, err
	}
	return batch, secret, nil
}

func mod(v, q int64) int64 {
	v %= q
	if v < 0 {
		v += q
	}
	return v
}
