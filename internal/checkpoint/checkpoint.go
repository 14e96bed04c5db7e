// Package checkpoint persists the progress of an attack so that an interrupted
// run resumes exactly where it stopped.
//
// A checkpoint is JSON, compressed and framed with a CRC32, and replaced
// atomically: the new content is written to a temporary file in the same
// directory, synced, then renamed over the old one. A reader therefore sees
// either the previous or the new checkpoint, never a torn one.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/topk"
)

// FileName is the checkpoint name inside a run directory.
const FileName = "checkpoint.ckpt"

var (
	// ErrNotFound is returned by Load when no checkpoint exists.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrConfigMismatch is returned when a checkpoint belongs to another run.
	ErrConfigMismatch = errors.New("checkpoint does not match configuration")
	// ErrLocked is returned when another process holds the checkpoint.
	ErrLocked = errors.New("checkpoint is locked by another process")
)

// Fingerprint identifies a run: the enumeration space and the exact samples.
type Fingerprint struct {
	BFDim    int    `json:"bf_dim"`
	MinHW    int    `json:"min_bf_hw"`
	MaxHW    int    `json:"max_bf_hw"`
	Alphabet string `json:"secret_type"`
	N        int    `json:"n"`
	Q        uint64 `json:"q"`
	Samples  string `json:"samples"`
	Artifact string `json:"artifact,omitempty"`
}

// MismatchError lists the fingerprint fields that differ.
type MismatchError struct {
	Fields []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: %s differ", ErrConfigMismatch, strings.Join(e.Fields, ", "))
}

func (e *MismatchError) Is(target error) bool { return target == ErrConfigMismatch }

// Checkpoint is the resumable state of a run.
type Checkpoint struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	// Remaining are the candidate ranges not yet processed, in order.
	Remaining []enum.Range `json:"remaining"`
	// Cursor is a low-water mark: every index below it has been processed.
	Cursor    uint64       `json:"cursor"`
	Total     uint64       `json:"total"`
	Processed uint64       `json:"processed"`
	Consumed  int          `json:"consumed_samples"`
	Top       []topk.Entry `json:"top"`
	Failed    []enum.Range `json:"failed,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Fresh returns the checkpoint of a run that has not started.
func Fresh(fp Fingerprint, total uint64) *Checkpoint {
	now := time.Now().UTC()
	cp := &Checkpoint{
		Fingerprint: fp,
		Total:       total,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if total > 0 {
		cp.Remaining = []enum.Range{{Lo: 0, Hi: total}}
	}
	return cp
}

// Done reports whether no candidate is left to schedule. Failed ranges are
// not counted; see Complete.
func (cp *Checkpoint) Done() bool {
	for _, r := range cp.Remaining {
		if r.Len() > 0 {
			return false
		}
	}
	return true
}

// Complete reports whether every candidate was scored: nothing is left and no
// range failed.
func (cp *Checkpoint) Complete() bool {
	return cp.Done() && len(cp.Failed) == 0
}

// Validate checks that cp was produced for fp.
func (cp *Checkpoint) Validate(fp Fingerprint) error {
	var diff []string
	got := cp.Fingerprint
	if got.BFDim != fp.BFDim {
		diff = append(diff, "bf_dim")
	}
	if got.MinHW != fp.MinHW {
		diff = append(diff, "min_bf_hw")
	}
	if got.MaxHW != fp.MaxHW {
		diff = append(diff, "max_bf_hw")
	}
	if got.Alphabet != fp.Alphabet {
		diff = append(diff, "secret_type")
	}
	if got.N != fp.N || got.Q != fp.Q {
		diff = append(diff, "modulus")
	}
	if got.Samples != fp.Samples {
		diff = append(diff, "samples")
	}
	if got.Artifact != fp.Artifact {
		diff = append(diff, "artifact")
	}
	if len(diff) > 0 {
		return &MismatchError{Fields: diff}
	}
	return nil
}

// Encode writes cp framed with codec c.
func Encode(cp *Checkpoint, c Codec) ([]byte, error) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("cannot encode checkpoint: %w", err)
	}
	var buf bytes.Buffer
	if err := writeFrame(&buf, raw, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a framed checkpoint.
func Decode(data []byte) (*Checkpoint, Codec, error) {
	raw, c, err := readFrame(bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &cp, c, nil
}

// Load reads the checkpoint at path without locking it.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cannot read checkpoint: %w", err)
	}
	cp, _, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return cp, nil
}

// Manager owns the checkpoint of one run for the lifetime of the process.
type Manager struct {
	path  string
	codec Codec
	lock  *flock.Flock
}

// Open locks path for exclusive use, waiting up to wait for another holder to
// let go.
func Open(path string, c Codec, wait time.Duration) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create checkpoint dir: %w", err)
	}
	lockPath := path + ".lock"
	l := flock.New(lockPath)
	deadline := time.Now().Add(wait)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("cannot acquire checkpoint lock: %w", err)
		}
		if locked {
			return &Manager{path: path, codec: c, lock: l}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w (lock: %s)", ErrLocked, lockPath)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Path returns the checkpoint file path.
func (m *Manager) Path() string { return m.path }

// Load reads the managed checkpoint.
func (m *Manager) Load() (*Checkpoint, error) { return Load(m.path) }

// Save atomically replaces the checkpoint with cp.
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := Encode(cp, m.codec)
	if err != nil {
		return err
	}
	return writeAtomic(m.path, data)
}

// Remove deletes the checkpoint, used when a run starts fresh.
func (m *Manager) Remove() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot remove checkpoint: %w", err)
	}
	return nil
}

// Close releases the lock.
func (m *Manager) Close() error {
	return m.lock.Unlock()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("cannot write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("cannot sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("cannot close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("cannot replace checkpoint: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
