package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the payload compression of a checkpoint file.
type Codec uint32

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// ParseCodec maps "zstd", "lz4" or "none" to a Codec. Empty means zstd.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

const (
	frameMagic   = 0x434b5043 // bytes "CPKC" on disk, little-endian
	frameVersion = 1
	headerSize   = 24
)

// ErrCorrupt is returned for frames with a bad magic, version, length or
// checksum.
var ErrCorrupt = errors.New("corrupt checkpoint")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compress(raw []byte, c Codec) ([]byte, error) {
	switch c {
	case CodecNone:
		return raw, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible: lz4 reports 0 and the block is stored as is.
			return nil, nil
		}
		return dst[:n], nil
	case CodecZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("unknown codec %d", uint32(c))
}

func decompress(payload []byte, c Codec, rawLen uint32) ([]byte, error) {
	switch c {
	case CodecNone:
		return payload, nil
	case CodecLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawLen {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != rawLen {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown codec %d", uint32(c))
}

// writeFrame writes raw compressed with c.
// Format:
// Magic (4 bytes)
// Version (4 bytes)
// Codec (4 bytes)
// Checksum (4 bytes) - CRC32 of payload
// PayloadLength (4 bytes)
// RawLength (4 bytes)
// Payload
func writeFrame(w io.Writer, raw []byte, c Codec) error {
	payload, err := compress(raw, c)
	if err != nil {
		return fmt.Errorf("cannot compress checkpoint: %w", err)
	}
	if payload == nil {
		c, payload = CodecNone, raw
	}
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], frameMagic)
	binary.LittleEndian.PutUint32(header[4:8], frameVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(c))
	binary.LittleEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(raw)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame returns the decompressed payload and the codec it was stored with.
func readFrame(r io.Reader) ([]byte, Codec, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != frameMagic {
		return nil, 0, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != frameVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	c := Codec(binary.LittleEndian.Uint32(header[8:12]))
	sum := binary.LittleEndian.Uint32(header[12:16])
	length := binary.LittleEndian.Uint32(header[16:20])
	rawLen := binary.LittleEndian.Uint32(header[20:24])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated payload: %v", ErrCorrupt, err)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	raw, err := decompress(payload, c, rawLen)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return raw, c, nil
}
