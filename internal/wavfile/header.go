package wavfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

// header is the canonical 44-byte RIFF/WAVE header, little-endian.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
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
	Subchunk2Size uint32  // data size
}

// EncodeHeader returns the header bytes for dataSize bytes of PCM in format f.
func EncodeHeader(f audio.Format, dataSize uint32) []byte {
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.FrameSize()),
		BitsPerSample: uint16(f.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	// writes to a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// DecodeHeader parses a canonical header and returns the format and the
// declared data size.
func DecodeHeader(data []byte) (audio.Format, uint32, error) {
	if len(data) < HeaderSize {
		return audio.Format{}, 0, fmt.Errorf("wavfile: header too short: need %d bytes, got %d", HeaderSize, len(data))
	}
	var h header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return audio.Format{}, 0, fmt.Errorf("wavfile: read header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return audio.Format{}, 0, fmt.Errorf("wavfile: missing RIFF/WAVE tags")
	}
	if string(h.Subchunk1ID[:]) != "fmt " || string(h.Subchunk2ID[:]) != "data" {
		return audio.Format{}, 0, fmt.Errorf("wavfile: not a canonical 44-byte PCM header")
	}
	if h.AudioFormat != 1 {
		return audio.Format{}, 0, fmt.Errorf("wavfile: unsupported audio format %d", h.AudioFormat)
	}
	f := audio.Format{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
		BitDepth:   int(h.BitsPerSample),
	}
	return f, h.Subchunk2Size, nil
}
