package opus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonas747/ogg"
)

func TestChecksum_CheckValue(t *testing.T) {
	t.Parallel()
	// CRC-32 with polynomial 0x04C11DB7, zero init and no final xor.
	if got := Checksum([]byte("123456789")); got != 0x89A1897F {
		t.Errorf("Checksum = %#08x; want 0x89a1897f", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum(nil) = %#08x; want 0", got)
	}
}

func TestBuildPage_Layout(t *testing.T) {
	t.Parallel()

	packets := [][]byte{
		bytes.Repeat([]byte{0xA}, 10),
		bytes.Repeat([]byte{0xB}, 255),
		bytes.Repeat([]byte{0xC}, 300),
	}
	page, err := BuildPage(FlagEOS, 4800, 7, 3, packets)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}

	if string(page[0:4]) != "OggS" {
		t.Errorf("capture pattern = %q", page[0:4])
	}
	if page[5] != FlagEOS {
		t.Errorf("flags = %#x; want EOS", page[5])
	}
	if g := int64(binary.LittleEndian.Uint64(page[6:14])); g != 4800 {
		t.Errorf("granule = %d; want 4800", g)
	}
	if s := binary.LittleEndian.Uint32(page[14:18]); s != 7 {
		t.Errorf("serial = %d; want 7", s)
	}
	if s := binary.LittleEndian.Uint32(page[18:22]); s != 3 {
		t.Errorf("sequence = %d; want 3", s)
	}

	wantLacing := []byte{10, 255, 0, 255, 45}
	nseg := int(page[26])
	if diff := cmp.Diff(wantLacing, page[27:27+nseg]); diff != "" {
		t.Errorf("lacing mismatch (-want +got):\n%s", diff)
	}
	if want := 27 + len(wantLacing) + 10 + 255 + 300; len(page) != want {
		t.Errorf("page length = %d; want %d", len(page), want)
	}

	crc := binary.LittleEndian.Uint32(page[22:26])
	zeroed := bytes.Clone(page)
	copy(zeroed[22:26], []byte{0, 0, 0, 0})
	if got := Checksum(zeroed); got != crc {
		t.Errorf("stored crc %#08x != computed %#08x", crc, got)
	}
}

func TestBuildPage_TooLarge(t *testing.T) {
	t.Parallel()
	packets := make([][]byte, 256)
	for i := range packets {
		packets[i] = []byte{1}
	}
	if _, err := BuildPage(0, 0, 1, 0, packets); !errors.Is(err, ErrPageTooLarge) {
		t.Fatalf("err = %v; want ErrPageTooLarge", err)
	}
}

func TestPageWriter_DemuxRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	pw := NewPageWriter(&buf, 42)
	head := OpusHead(1, 312, 24000)
	if err := pw.WriteBOS(head); err != nil {
		t.Fatal(err)
	}
	tags := OpusTags("test")
	if err := pw.WritePage(0, [][]byte{tags}); err != nil {
		t.Fatal(err)
	}
	audioPackets := [][]byte{
		bytes.Repeat([]byte{1}, 60),
		bytes.Repeat([]byte{2}, 61),
		bytes.Repeat([]byte{3}, 400),
	}
	if err := pw.WritePage(960*3, audioPackets); err != nil {
		t.Fatal(err)
	}
	if err := pw.WriteEOS(960*4, [][]byte{{9, 9}}); err != nil {
		t.Fatal(err)
	}
	if pw.Pages() != 4 {
		t.Errorf("Pages = %d; want 4", pw.Pages())
	}

	want := append([][]byte{head, tags}, audioPackets...)
	want = append(want, []byte{9, 9})

	demux := ogg.NewPacketDecoder(ogg.NewDecoder(&buf))
	var got [][]byte
	for {
		packet, _, err := demux.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, bytes.Clone(packet))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("packets mismatch (-want +got):\n%s", diff)
	}
}
