package samples

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var npyMagic = []byte("\x93NUMPY")

const (
	// maxHeaderLen bounds the dictionary of a .npy header.
	maxHeaderLen = 1 << 20
	// readChunk is the growth step of the payload buffer when the payload
	// size cannot be checked against the file size.
	readChunk = 1 << 20
)

// npyArray is a decoded NumPy integer array in C order.
type npyArray struct {
	Shape []int
	Data  []int64
}

type npyDtype struct {
	order binary.ByteOrder
	kind  byte // 'i' or 'u'
	size  int
}

// readNPYFile opens path (optionally zstd-compressed when it ends in .zst)
// and decodes a NumPy array of integers.
func readNPYFile(path string) (*npyArray, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Path: path, cause: err}
		}
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	limit := int64(-1)
	if info, err := f.Stat(); err == nil {
		limit = info.Size()
	}
	var r io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".zst") {
		limit = -1
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("cannot open zstd stream %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}
	arr, err := readNPY(r, limit)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
			return nil, fe
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return arr, nil
}

// readNPY decodes an array from r. When limit is not negative the payload
// announced by the header must fit in limit bytes.
func readNPY(r io.Reader, limit int64) (*npyArray, error) {
	pre := make([]byte, 8)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, &FormatError{Reason: "truncated header"}
	}
	if !bytes.Equal(pre[:6], npyMagic) {
		return nil, &FormatError{Reason: "not a .npy file"}
	}
	var hlen int
	switch pre[6] {
	case 1:
		b := make([]byte, 2)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, &FormatError{Reason: "truncated header"}
		}
		hlen = int(binary.LittleEndian.Uint16(b))
	case 2, 3:
		b := make([]byte, 4)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, &FormatError{Reason: "truncated header"}
		}
		hlen = int(binary.LittleEndian.Uint32(b))
	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported .npy version %d", pre[6])}
	}
	if hlen > maxHeaderLen {
		return nil, &FormatError{Reason: fmt.Sprintf("header of %d bytes is too large", hlen)}
	}
	header := make([]byte, hlen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, &FormatError{Reason: "truncated header"}
	}
	dt, fortran, shape, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, &FormatError{Reason: "fortran-ordered arrays are not supported"}
	}

	count, size, ok := payloadSize(shape, dt.size)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("shape %v is too large", shape)}
	}
	if limit >= 0 && size > uint64(limit) {
		return nil, &FormatError{Reason: fmt.Sprintf("shape %v needs %d bytes, file has %d", shape, size, limit)}
	}
	raw, err := readChunks(r, size)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("truncated data: want %d elements", count)}
	}
	data := make([]int64, count)
	for i := range data {
		data[i] = dt.decode(raw[i*dt.size:])
	}
	return &npyArray{Shape: shape, Data: data}, nil
}

// payloadSize returns the element count and byte size of shape. It reports
// false when either does not fit in memory addressable by an int.
func payloadSize(shape []int, elem int) (count int, size uint64, ok bool) {
	n := uint64(1)
	for _, d := range shape {
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 {
			return 0, 0, false
		}
		n = lo
	}
	// The decoded []int64 is the larger of the two buffers.
	if n > math.MaxInt/8 {
		return 0, 0, false
	}
	return int(n), n * uint64(elem), true
}

// readChunks reads exactly n bytes, growing the buffer one chunk at a time so
// that a short stream fails before a large allocation.
func readChunks(r io.Reader, n uint64) ([]byte, error) {
	buf := make([]byte, 0, min(n, readChunk))
	for uint64(len(buf)) < n {
		k := int(min(n-uint64(len(buf)), readChunk))
		if cap(buf)-len(buf) < k {
			grown := make([]byte, len(buf), len(buf)+max(k, len(buf)))
			copy(grown, buf)
			buf = grown
		}
		m, err := io.ReadFull(r, buf[len(buf):len(buf)+k])
		buf = buf[:len(buf)+m]
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (d npyDtype) decode(b []byte) int64 {
	switch d.size {
	case 1:
		if d.kind == 'i' {
			return int64(int8(b[0]))
		}
		return int64(b[0])
	case 2:
		v := d.order.Uint16(b)
		if d.kind == 'i' {
			return int64(int16(v))
		}
		return int64(v)
	case 4:
		v := d.order.Uint32(b)
		if d.kind == 'i' {
			return int64(int32(v))
		}
		return int64(v)
	default:
		v := d.order.Uint64(b)
		if d.kind == 'u' && v > 1<<63-1 {
			// Out of range for any supported modulus; surfaced as negative.
			return -1
		}
		return int64(v)
	}
}

// parseNPYHeader parses the python-literal dictionary of a .npy header, e.g.
// {'descr': '<i8', 'fortran_order': False, 'shape': (100, 32), }
func parseNPYHeader(h string) (npyDtype, bool, []int, error) {
	var dt npyDtype
	descr, ok := headerValue(h, "descr")
	if !ok {
		return dt, false, nil, &FormatError{Reason: "header has no descr"}
	}
	if len(descr) < 2 || (descr[0] != '\'' && descr[0] != '"') {
		return dt, false, nil, &FormatError{Reason: "descr is not a string"}
	}
	if end := strings.IndexByte(descr[1:], descr[0]); end >= 0 {
		descr = descr[1 : end+1]
	}
	if len(descr) < 3 {
		return dt, false, nil, &FormatError{Reason: fmt.Sprintf("unsupported dtype %q", descr)}
	}
	switch descr[0] {
	case '<', '|', '=':
		dt.order = binary.LittleEndian
	case '>':
		dt.order = binary.BigEndian
	default:
		return dt, false, nil, &FormatError{Reason: fmt.Sprintf("unsupported dtype %q", descr)}
	}
	dt.kind = descr[1]
	size, err := strconv.Atoi(descr[2:])
	if err != nil || (dt.kind != 'i' && dt.kind != 'u') || (size != 1 && size != 2 && size != 4 && size != 8) {
		return dt, false, nil, &FormatError{Reason: fmt.Sprintf("unsupported dtype %q, want an integer type", descr)}
	}
	dt.size = size

	fo, ok := headerValue(h, "fortran_order")
	if !ok {
		return dt, false, nil, &FormatError{Reason: "header has no fortran_order"}
	}
	fortran := strings.HasPrefix(fo, "True")

	sh, ok := headerValue(h, "shape")
	if !ok || !strings.HasPrefix(sh, "(") {
		return dt, false, nil, &FormatError{Reason: "header has no shape"}
	}
	end := strings.IndexByte(sh, ')')
	if end < 0 {
		return dt, false, nil, &FormatError{Reason: "unterminated shape"}
	}
	var shape []int
	for _, part := range strings.Split(sh[1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || v < 0 {
			return dt, false, nil, &FormatError{Reason: fmt.Sprintf("bad shape %q", sh[:end+1])}
		}
		shape = append(shape, v)
	}
	return dt, fortran, shape, nil
}

func headerValue(h, key string) (string, bool) {
	for _, q := range []string{"'", "\""} {
		k := q + key + q
		i := strings.Index(h, k)
		if i < 0 {
			continue
		}
		rest := strings.TrimLeft(h[i+len(k):], " ")
		if !strings.HasPrefix(rest, ":") {
			return "", false
		}
		return strings.TrimLeft(rest[1:], " "), true
	}
	return "", false
}

// WriteNPY writes data as a version 1.0 little-endian int64 .npy array.
func WriteNPY(w io.Writer, shape []int, data []int64) error {
	count := 1
	dims := make([]string, len(shape))
	for i, d := range shape {
		count *= d
		dims[i] = strconv.Itoa(d)
	}
	if count != len(data) {
		return fmt.Errorf("shape %v holds %d elements, got %d", shape, count, len(data))
	}
	shapeStr := "(" + strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	shapeStr += ")"
	dict := fmt.Sprintf("{'descr': '<i8', 'fortran_order': False, 'shape': %s, }", shapeStr)
	// Pad so that magic + version + length + header is a multiple of 64.
	total := len(npyMagic) + 2 + 2 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(npyMagic); err != nil {
		return err
	}
	if _, err := bw.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(dict))); err != nil {
		return err
	}
	if _, err := bw.WriteString(dict); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, data); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteNPYFile writes data to path, zstd-compressing when path ends in .zst.
func WriteNPYFile(path string, shape []int, data []int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return err
		}
		w = enc
	}
	if err := WriteNPY(w, shape, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}
