package opus

import (
	"bytes"
	"encoding/binary"
)

// OpusHead and OpusTags magic signatures.
var (
	headMagic = []byte("OpusHead")
	tagsMagic = []byte("OpusTags")
)

// Warm-up stream parameters.
const (
	// WarmupSerial is the stream serial of the synthetic warm-up page.
	WarmupSerial uint32 = 0x766c6e6b

	// WarmupPreSkip is the pre-skip advertised by the warm-up OpusHead.
	WarmupPreSkip uint16 = 3840

	// WarmupPageSize is the byte length of [WarmupPage]: 27 header bytes,
	// one lacing byte and a 19-byte OpusHead.
	WarmupPageSize = pageHeaderSize + 1 + opusHeadSize
)

const opusHeadSize = 19

// OpusHead returns the 19-byte identification header for a channel mapping
// family 0 stream.
func OpusHead(channels int, preSkip uint16, sampleRate uint32) []byte {
	b := make([]byte, opusHeadSize)
	copy(b[0:8], headMagic)
	b[8] = 1 // version
	b[9] = byte(channels)
	binary.LittleEndian.PutUint16(b[10:12], preSkip)
	binary.LittleEndian.PutUint32(b[12:16], sampleRate)
	binary.LittleEndian.PutUint16(b[16:18], 0) // output gain
	b[18] = 0                                  // mapping family
	return b
}

// OpusTags returns a comment header with the given vendor and no user comments.
func OpusTags(vendor string) []byte {
	b := make([]byte, 8+4+len(vendor)+4)
	copy(b[0:8], tagsMagic)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(vendor)))
	copy(b[12:], vendor)
	return b
}

// IsOpusHead reports whether packet is an identification header.
func IsOpusHead(packet []byte) bool { return bytes.HasPrefix(packet, headMagic) }

// IsOpusTags reports whether packet is a comment header.
func IsOpusTags(packet []byte) bool { return bytes.HasPrefix(packet, tagsMagic) }

// WarmupPage returns the synthetic beginning-of-stream page fed to the
// decoder before any page from the wire. It is a complete, checksummed Ogg
// page carrying a mono 48 kHz OpusHead and is never sent to the bridge.
func WarmupPage() []byte {
	page, err := BuildPage(FlagBOS, 0, WarmupSerial, 0, [][]byte{OpusHead(1, WarmupPreSkip, 48000)})
	if err != nil {
		// A single 19-byte packet always fits.
		panic(err)
	}
	return page
}
