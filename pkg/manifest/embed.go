package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	// ErrUnsupportedContainer is returned for media that is neither JPEG nor
	// PNG. Callers keep the envelope as a sidecar.
	ErrUnsupportedContainer = errors.New("unsupported media container")
	// ErrNoManifest is returned by Extract when no manifest is embedded.
	ErrNoManifest = errors.New("no embedded manifest")
	// ErrCorruptContainer is returned for truncated or inconsistent media.
	ErrCorruptContainer = errors.New("corrupt media container")
)

// Container is a supported media format.
type Container string

const (
	ContainerJPEG Container = "jpeg"
	ContainerPNG  Container = "png"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// DetectContainer identifies the media format from its leading bytes.
func DetectContainer(media []byte) (Container, error) {
	switch {
	case len(media) >= 3 && media[0] == 0xFF && media[1] == 0xD8 && media[2] == 0xFF:
		return ContainerJPEG, nil
	case bytes.HasPrefix(media, pngSignature):
		return ContainerPNG, nil
	default:
		return "", ErrUnsupportedContainer
	}
}

// Embed returns media with envelope embedded. Any manifest already present
// is replaced.
func Embed(media, envelope []byte) ([]byte, error) {
	if len(envelope) == 0 {
		return nil, errors.New("envelope is empty")
	}
	c, err := DetectContainer(media)
	if err != nil {
		return nil, err
	}
	_, original, err := Extract(media)
	if errors.Is(err, ErrNoManifest) {
		original = media
	} else if err != nil {
		return nil, err
	}

	if c == ContainerJPEG {
		return embedJPEG(original, envelope)
	}
	return embedPNG(original, envelope)
}

// Extract returns the embedded envelope and the media without it.
func Extract(media []byte) (envelope, original []byte, err error) {
	c, err := DetectContainer(media)
	if err != nil {
		return nil, nil, err
	}
	if c == ContainerJPEG {
		return extractJPEG(media)
	}
	return extractPNG(media)
}

// JPEG: the envelope is split across APP11 segments carrying
// "RCMF\0" | seq(2) | total(2) | sha256(envelope) | chunk.
const (
	markerAPP0  = 0xE0
	markerAPP1  = 0xE1
	markerAPP11 = 0xEB
	markerSOS   = 0xDA
	markerEOI   = 0xD9

	app11Ident    = "RCMF\x00"
	app11Header   = len(app11Ident) + 4 + sha256.Size
	maxSegmentLen = 0xFFFF - 2
	maxChunk      = maxSegmentLen - app11Header
)

type jpegSegment struct {
	marker     byte
	start, end int // byte range including the marker
}

// jpegSegments lists the marker segments between SOI and the first SOS.
func jpegSegments(media []byte) ([]jpegSegment, error) {
	var segs []jpegSegment
	p := 2
	for {
		if p+2 > len(media) || media[p] != 0xFF {
			return nil, fmt.Errorf("%w: expected marker at offset %d", ErrCorruptContainer, p)
		}
		m := media[p+1]
		if m == 0xFF {
			p++ // fill byte
			continue
		}
		if m == markerSOS || m == markerEOI {
			return segs, nil
		}
		if m == 0x01 || (m >= 0xD0 && m <= 0xD7) {
			segs = append(segs, jpegSegment{marker: m, start: p, end: p + 2})
			p += 2
			continue
		}
		if p+4 > len(media) {
			return nil, fmt.Errorf("%w: truncated segment at offset %d", ErrCorruptContainer, p)
		}
		n := int(binary.BigEndian.Uint16(media[p+2:]))
		if n < 2 || p+2+n > len(media) {
			return nil, fmt.Errorf("%w: segment length %d at offset %d", ErrCorruptContainer, n, p)
		}
		segs = append(segs, jpegSegment{marker: m, start: p, end: p + 2 + n})
		p += 2 + n
	}
}

func isManifestSegment(media []byte, s jpegSegment) bool {
	return s.marker == markerAPP11 && s.end-s.start >= 4+app11Header &&
		string(media[s.start+4:s.start+4+len(app11Ident)]) == app11Ident
}

func embedJPEG(media, envelope []byte) ([]byte, error) {
	segs, err := jpegSegments(media)
	if err != nil {
		return nil, err
	}
	total := (len(envelope) + maxChunk - 1) / maxChunk
	if total > 0xFFFF {
		return nil, fmt.Errorf("envelope of %d bytes is too large to embed", len(envelope))
	}

	sum := sha256.Sum256(envelope)
	insertAt := 2
	for _, s := range segs {
		if s.marker != markerAPP0 && s.marker != markerAPP1 {
			break
		}
		insertAt = s.end
	}

	out := make([]byte, 0, len(media)+len(envelope)+total*(4+app11Header))
	out = append(out, media[:insertAt]...)
	for seq := 0; seq < total; seq++ {
		chunk := envelope[seq*maxChunk : min((seq+1)*maxChunk, len(envelope))]
		out = append(out, 0xFF, markerAPP11)
		out = binary.BigEndian.AppendUint16(out, uint16(2+app11Header+len(chunk)))
		out = append(out, app11Ident...)
		out = binary.BigEndian.AppendUint16(out, uint16(seq))
		out = binary.BigEndian.AppendUint16(out, uint16(total))
		out = append(out, sum[:]...)
		out = append(out, chunk...)
	}
	return append(out, media[insertAt:]...), nil
}

func extractJPEG(media []byte) ([]byte, []byte, error) {
	segs, err := jpegSegments(media)
	if err != nil {
		return nil, nil, err
	}

	var envelope, sum []byte
	original := make([]byte, 0, len(media))
	prev := 0
	found, expectSeq, total := false, 0, 0
	for _, s := range segs {
		if !isManifestSegment(media, s) {
			continue
		}
		hdr := media[s.start+4+len(app11Ident):]
		seq := int(binary.BigEndian.Uint16(hdr))
		n := int(binary.BigEndian.Uint16(hdr[2:]))
		digest := hdr[4 : 4+sha256.Size]
		if !found {
			total, sum = n, digest
		}
		if seq != expectSeq || n != total {
			return nil, nil, fmt.Errorf("%w: manifest segment %d/%d out of order", ErrCorruptContainer, seq, n)
		}
		if !bytes.Equal(digest, sum) {
			return nil, nil, fmt.Errorf("%w: manifest segment %d digest differs", ErrCorruptContainer, seq)
		}
		envelope = append(envelope, media[s.start+4+app11Header:s.end]...)
		original = append(original, media[prev:s.start]...)
		prev = s.end
		found = true
		expectSeq++
	}
	if !found {
		return nil, nil, ErrNoManifest
	}
	if expectSeq != total {
		return nil, nil, fmt.Errorf("%w: %d of %d manifest segments present", ErrCorruptContainer, expectSeq, total)
	}
	if got := sha256.Sum256(envelope); !bytes.Equal(got[:], sum) {
		return nil, nil, fmt.Errorf("%w: manifest digest mismatch", ErrCorruptContainer)
	}
	return envelope, append(original, media[prev:]...), nil
}

// PNG: the envelope is a private, unsafe-to-copy ancillary chunk placed
// right after IHDR. The chunk CRC covers the envelope.
const chunkManifest = "rcMF"

type pngChunk struct {
	typ        string
	start, end int // byte range including length and CRC
	data       []byte
}

func pngChunks(media []byte) ([]pngChunk, error) {
	var chunks []pngChunk
	p := len(pngSignature)
	for p < len(media) {
		if p+12 > len(media) {
			return nil, fmt.Errorf("%w: truncated chunk at offset %d", ErrCorruptContainer, p)
		}
		n := int(binary.BigEndian.Uint32(media[p:]))
		if n < 0 || n > len(media)-p-12 {
			return nil, fmt.Errorf("%w: chunk length %d at offset %d", ErrCorruptContainer, n, p)
		}
		c := pngChunk{
			typ:   string(media[p+4 : p+8]),
			start: p,
			end:   p + 12 + n,
			data:  media[p+8 : p+8+n],
		}
		chunks = append(chunks, c)
		p = c.end
		if c.typ == "IEND" {
			break
		}
	}
	if len(chunks) == 0 || chunks[0].typ != "IHDR" {
		return nil, fmt.Errorf("%w: PNG does not start with IHDR", ErrCorruptContainer)
	}
	return chunks, nil
}

func embedPNG(media, envelope []byte) ([]byte, error) {
	chunks, err := pngChunks(media)
	if err != nil {
		return nil, err
	}
	insertAt := chunks[0].end

	out := make([]byte, 0, len(media)+len(envelope)+12)
	out = append(out, media[:insertAt]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(envelope)))
	crcStart := len(out)
	out = append(out, chunkManifest...)
	out = append(out, envelope...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[crcStart:]))
	return append(out, media[insertAt:]...), nil
}

func extractPNG(media []byte) ([]byte, []byte, error) {
	chunks, err := pngChunks(media)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range chunks {
		if c.typ != chunkManifest {
			continue
		}
		want := binary.BigEndian.Uint32(media[c.end-4:])
		if crc32.ChecksumIEEE(media[c.start+4:c.end-4]) != want {
			return nil, nil, fmt.Errorf("%w: manifest chunk CRC mismatch", ErrCorruptContainer)
		}
		original := make([]byte, 0, len(media)-(c.end-c.start))
		original = append(original, media[:c.start]...)
		original = append(original, media[c.end:]...)
		return append([]byte(nil), c.data...), original, nil
	}
	return nil, nil, ErrNoManifest
}
