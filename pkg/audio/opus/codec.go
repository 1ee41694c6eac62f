package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Encode target and decoder output parameters.
const (
	// EncodeSampleRate is the capture sample rate sent to the bridge.
	EncodeSampleRate = 24000

	// EncodeChannels is the capture channel count.
	EncodeChannels = 1

	// DecodeSampleRate is the PCM rate produced by the decoder. Opus always
	// runs at 48 kHz internally, and granule positions count at this rate.
	DecodeSampleRate = 48000

	// DefaultBitrate is the encoder target bitrate in bits per second.
	DefaultBitrate = 24000

	// DefaultPacketsPerPage is how many 20 ms packets are batched into one Ogg page.
	DefaultPacketsPerPage = 3

	// encodeFrameSize is the number of samples per channel in a 20 ms capture frame.
	encodeFrameSize = EncodeSampleRate * 20 / 1000 // 480

	// maxDecodeFrameSize is the largest Opus frame (120 ms at 48 kHz).
	maxDecodeFrameSize = 5760

	// maxPacketBytes bounds a single encoded packet.
	maxPacketBytes = 4000
)

// EncodeFormat is the PCM format the encoder consumes.
var EncodeFormat = audio.Format{SampleRate: EncodeSampleRate, Channels: EncodeChannels}

// packetEncoder wraps a gopus encoder for the capture stream.
type packetEncoder struct {
	enc *gopus.Encoder
}

func newPacketEncoder(bitrate int) (*packetEncoder, error) {
	enc, err := gopus.NewEncoder(EncodeSampleRate, EncodeChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	enc.SetBitrate(bitrate)
	return &packetEncoder{enc: enc}, nil
}

// encode turns one 20 ms frame of little-endian PCM into an Opus packet.
func (e *packetEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.BytesToInt16s(pcm), encodeFrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

// packetDecoder wraps a gopus decoder for the remote stream. One decoder
// is kept for the whole session so inter-frame state stays consistent.
type packetDecoder struct {
	dec      *gopus.Decoder
	channels int
}

func newPacketDecoder(channels int) (*packetDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(DecodeSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &packetDecoder{dec: dec, channels: channels}, nil
}

// decode returns the little-endian PCM for one Opus packet.
func (d *packetDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxDecodeFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}
