package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Ogg page header flags.
const (
	FlagContinued byte = 0x01
	FlagBOS       byte = 0x02
	FlagEOS       byte = 0x04
)

// pageHeaderSize is the fixed part of an Ogg page header, before the lacing table.
const pageHeaderSize = 27

// maxSegments is the largest lacing table a single page can carry.
const maxSegments = 255

// ErrPageTooLarge is returned when the packets do not fit into one page.
var ErrPageTooLarge = errors.New("opus: packets exceed one ogg page")

var crcTable = func() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// Checksum computes the Ogg page CRC-32 (polynomial 0x04C11DB7, zero initial
// value, no final xor) over b.
func Checksum(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

// BuildPage serialises one complete Ogg page carrying packets. Packets are
// never split across pages.
func BuildPage(flags byte, granule int64, serial, seq uint32, packets [][]byte) ([]byte, error) {
	var lacing []byte
	bodyLen := 0
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		bodyLen += len(p)
	}
	if len(lacing) > maxSegments {
		return nil, fmt.Errorf("%w: %d segments", ErrPageTooLarge, len(lacing))
	}

	page := make([]byte, pageHeaderSize+len(lacing)+bodyLen)
	copy(page[0:4], "OggS")
	page[4] = 0 // stream structure version
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(page[14:18], serial)
	binary.LittleEndian.PutUint32(page[18:22], seq)
	page[26] = byte(len(lacing))
	off := pageHeaderSize + copy(page[pageHeaderSize:], lacing)
	for _, p := range packets {
		off += copy(page[off:], p)
	}

	binary.LittleEndian.PutUint32(page[22:26], Checksum(page))
	return page, nil
}

// PageWriter writes the pages of one logical Ogg stream, numbering them in
// sequence. It is not safe for concurrent use.
type PageWriter struct {
	w      io.Writer
	serial uint32
	seq    uint32
}

// NewPageWriter returns a PageWriter for the stream identified by serial.
func NewPageWriter(w io.Writer, serial uint32) *PageWriter {
	return &PageWriter{w: w, serial: serial}
}

// WriteBOS writes the beginning-of-stream page holding the stream header packet.
func (pw *PageWriter) WriteBOS(packet []byte) error {
	return pw.write(FlagBOS, 0, [][]byte{packet})
}

// WritePage writes a regular page. granule is the position after the last
// sample carried by packets.
func (pw *PageWriter) WritePage(granule int64, packets [][]byte) error {
	return pw.write(0, granule, packets)
}

// WriteEOS writes the end-of-stream page. packets may be empty.
func (pw *PageWriter) WriteEOS(granule int64, packets [][]byte) error {
	return pw.write(FlagEOS, granule, packets)
}

// Pages returns the number of pages written so far.
func (pw *PageWriter) Pages() uint32 { return pw.seq }

func (pw *PageWriter) write(flags byte, granule int64, packets [][]byte) error {
	page, err := BuildPage(flags, granule, pw.serial, pw.seq, packets)
	if err != nil {
		return err
	}
	if _, err := pw.w.Write(page); err != nil {
		return fmt.Errorf("opus: write ogg page: %w", err)
	}
	pw.seq++
	return nil
}
