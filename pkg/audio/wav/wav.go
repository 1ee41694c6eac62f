// Package wav reads and writes 16-bit PCM RIFF/WAVE files and adapts them to
// the [audio.Source] and [audio.Sink] interfaces, so a WAV file can stand in
// for a microphone or a speaker.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// HeaderSize is the length of the canonical 44-byte PCM header written by
// [WriteHeader].
const HeaderSize = 44

// ErrUnsupported is returned for WAV files that are not 16-bit integer PCM.
var ErrUnsupported = errors.New("wav: unsupported encoding")

// header mirrors the canonical PCM WAV layout.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WriteHeader writes a canonical PCM header for dataSize bytes of f-formatted audio.
func WriteHeader(w io.Writer, f audio.Format, dataSize uint32) error {
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.Channels * 2),
		BlockAlign:    uint16(f.Channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	return nil
}

// ReadHeader parses a WAV header from r and leaves r positioned at the first
// PCM byte. Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
// It returns the stream format and the declared data length.
func ReadHeader(r io.Reader) (audio.Format, uint32, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return audio.Format{}, 0, fmt.Errorf("wav: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return audio.Format{}, 0, errors.New("wav: missing RIFF/WAVE signature")
	}

	var (
		format  audio.Format
		haveFmt bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return audio.Format{}, 0, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return audio.Format{}, 0, fmt.Errorf("wav: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return audio.Format{}, 0, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != 16 {
				return audio.Format{}, 0, fmt.Errorf("%w: format %d, %d bits", ErrUnsupported, audioFormat, bits)
			}
			format = audio.Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return audio.Format{}, 0, errors.New("wav: data chunk before fmt chunk")
			}
			return format, size, nil
		default:
			// Chunks are word aligned.
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return audio.Format{}, 0, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
	}
}
