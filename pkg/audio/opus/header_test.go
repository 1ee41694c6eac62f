package opus

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWarmupPage(t *testing.T) {
	t.Parallel()

	p := WarmupPage()
	if WarmupPageSize != 47 {
		t.Fatalf("WarmupPageSize = %d; want 47", WarmupPageSize)
	}
	if len(p) != WarmupPageSize {
		t.Fatalf("len = %d; want %d", len(p), WarmupPageSize)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"capture pattern", string(p[0:4]), "OggS"},
		{"version", p[4], byte(0)},
		{"flags", p[5], FlagBOS},
		{"granule", binary.LittleEndian.Uint64(p[6:14]), uint64(0)},
		{"serial", binary.LittleEndian.Uint32(p[14:18]), WarmupSerial},
		{"sequence", binary.LittleEndian.Uint32(p[18:22]), uint32(0)},
		{"segments", p[26], byte(1)},
		{"segment length", p[27], byte(19)},
		{"magic", string(p[28:36]), "OpusHead"},
		{"head version", p[36], byte(1)},
		{"channels", p[37], byte(1)},
		{"pre-skip", binary.LittleEndian.Uint16(p[38:40]), WarmupPreSkip},
		{"sample rate", binary.LittleEndian.Uint32(p[40:44]), uint32(48000)},
		{"gain", binary.LittleEndian.Uint16(p[44:46]), uint16(0)},
		{"mapping", p[46], byte(0)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v; want %v", c.name, c.got, c.want)
		}
	}

	crc := binary.LittleEndian.Uint32(p[22:26])
	z := bytes.Clone(p)
	copy(z[22:26], []byte{0, 0, 0, 0})
	if Checksum(z) != crc {
		t.Error("warm-up page checksum does not verify")
	}

	if !bytes.Equal(WarmupPage(), p) {
		t.Error("WarmupPage is not deterministic")
	}
}

func TestOpusTags(t *testing.T) {
	t.Parallel()
	b := OpusTags("vl")
	if !IsOpusTags(b) || IsOpusHead(b) {
		t.Fatal("OpusTags not recognised")
	}
	if n := binary.LittleEndian.Uint32(b[8:12]); n != 2 || string(b[12:14]) != "vl" {
		t.Errorf("vendor = %q (len %d)", b[12:14], n)
	}
	if c := binary.LittleEndian.Uint32(b[14:18]); c != 0 {
		t.Errorf("comment count = %d; want 0", c)
	}
}
