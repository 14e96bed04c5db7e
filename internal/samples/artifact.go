package samples

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/zeebo/blake3"
)

// Artifact is a reduced-basis / threshold blob produced by the preprocessing
// step. Its contents are opaque to the engine; only its key and digest are used.
type Artifact struct {
	Path      string
	N         int
	Q         uint64
	Threshold string
	Blob      []byte
}

var artifactPattern = regexp.MustCompile(`^basis_n(\d+)_q(\d+)_t([0-9.]+)\.bin$`)

// ArtifactName returns the conventional file name for a basis artifact.
func ArtifactName(n int, q uint64, threshold string) string {
	return fmt.Sprintf("basis_n%d_q%d_t%s.bin", n, q, threshold)
}

// LoadArtifact reads an artifact and checks that its (n, q) key matches.
func LoadArtifact(path string, n int, q uint64) (*Artifact, error) {
	m := artifactPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, &FormatError{Path: path, Reason: "name is not basis_n{N}_q{Q}_t{threshold}.bin"}
	}
	an, _ := strconv.Atoi(m[1])
	aq, _ := strconv.ParseUint(m[2], 10, 64)
	if an != n || aq != q {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("artifact is for n=%d q=%d, run uses n=%d q=%d", an, aq, n, q)}
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Path: path, cause: err}
		}
		return nil, fmt.Errorf("cannot read artifact %s: %w", path, err)
	}
	return &Artifact{Path: path, N: an, Q: aq, Threshold: m[3], Blob: blob}, nil
}

// Digest returns the blake3 digest (hex) of the artifact key and contents.
func (a *Artifact) Digest() string {
	h := blake3.New()
	_, _ = fmt.Fprintf(h, "n=%d q=%d t=%s\n", a.N, a.Q, a.Threshold)
	_, _ = h.Write(a.Blob)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the blake3 digest (hex) of the batch dimensions and
// contents in row order. Two batches with equal fingerprints hold the same
// samples in the same order.
func (b *Batch) Fingerprint() string {
	h := blake3.New()
	buf := make([]byte, 8)
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		_, _ = h.Write(buf)
	}
	put(uint64(b.N))
	put(b.Q)
	put(uint64(b.Rows))
	for _, v := range b.a {
		put(v)
	}
	for _, v := range b.b {
		put(v)
	}
	return hex.EncodeToString(h.Sum(nil))
}
