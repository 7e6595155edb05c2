package depth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrInvalidMap marks a depth buffer that cannot be decoded.
var ErrInvalidMap = errors.New("invalid depth map")

const (
	mapMagic   = "RCDM"
	mapVersion = 1
	headerSize = 16

	// FlagZstd marks a zstd-compressed sample payload.
	FlagZstd = 1 << 0

	// MaxDimension bounds either side of a decoded map.
	MaxDimension = 4096
)

// Map is a dense row-major grid of distances.
type Map struct {
	Width   int
	Height  int
	Samples []float32
}

// NewMap allocates a zeroed width x height map.
func NewMap(width, height int) *Map {
	return &Map{Width: width, Height: height, Samples: make([]float32, width*height)}
}

// At returns the sample at (x, y).
func (m *Map) At(x, y int) float32 { return m.Samples[y*m.Width+x] }

// Set stores v at (x, y).
func (m *Map) Set(x, y int, v float32) { m.Samples[y*m.Width+x] = v }

// Validate checks the dimensions against the sample count.
func (m *Map) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidMap, m.Width, m.Height)
	}
	if m.Width > MaxDimension || m.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d exceed %d", ErrInvalidMap, m.Width, m.Height, MaxDimension)
	}
	if len(m.Samples) != m.Width*m.Height {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidMap, len(m.Samples), m.Width, m.Height)
	}
	return nil
}

var (
	encoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
	})
	decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(MaxDimension*MaxDimension*4)),
		)
	})
)

// EncodeMap serializes m, compressing the samples when compress is set.
//
// Layout: "RCDM" | version(1) | flags(1) | reserved(2) | width(4 LE) | height(4 LE) | payload
func EncodeMap(m *Map, compress bool) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	raw := make([]byte, 4*len(m.Samples))
	for i, v := range m.Samples {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}

	var flags byte
	payload := raw
	if compress {
		enc, err := encoder()
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(raw, nil)
		flags |= FlagZstd
	}

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, mapMagic)
	out[4] = mapVersion
	out[5] = flags
	binary.LittleEndian.PutUint32(out[8:], uint32(m.Width))
	binary.LittleEndian.PutUint32(out[12:], uint32(m.Height))
	return append(out, payload...), nil
}

// DecodeMap parses an RCDM buffer. Failures wrap ErrInvalidMap.
func DecodeMap(data []byte) (*Map, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidMap, len(data))
	}
	if string(data[:4]) != mapMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidMap, data[:4])
	}
	if data[4] != mapVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidMap, data[4])
	}
	flags := data[5]
	if flags&^FlagZstd != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrInvalidMap, flags)
	}

	width := binary.LittleEndian.Uint32(data[8:])
	height := binary.LittleEndian.Uint32(data[12:])
	if width == 0 || height == 0 || width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidMap, width, height)
	}
	n := int(width) * int(height)

	payload := data[headerSize:]
	if flags&FlagZstd != 0 {
		dec, err := decoder()
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		payload, err = dec.DecodeAll(payload, make([]byte, 0, 4*n))
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrInvalidMap, err)
		}
	}
	if len(payload) != 4*n {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrInvalidMap, len(payload), 4*n)
	}

	m := NewMap(int(width), int(height))
	for i := range m.Samples {
		m.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return m, nil
}
