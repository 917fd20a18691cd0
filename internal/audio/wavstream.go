package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultChunkDuration is the amount of audio WAVStream emits per chunk.
const DefaultChunkDuration = 100 * time.Millisecond

// WAVStream replays a PCM WAV file as a Stream. Without pacing it emits as
// fast as the consumer accepts; with pacing it emits in real time, which is
// how a capture device would deliver the same audio.
type WAVStream struct {
	path   string
	format Format
	chunk  time.Duration
	paced  bool
}

// OpenWAV reads the header of the WAV file at path and returns a stream over
// its samples.
func OpenWAV(path string) (*WAVStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audio: %s is not a valid WAV file", path)
	}
	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("audio: %s: %w", path, err)
	}
	return &WAVStream{path: path, format: format, chunk: DefaultChunkDuration}, nil
}

// WithChunkDuration sets how much audio each emitted chunk holds.
func (w *WAVStream) WithChunkDuration(d time.Duration) *WAVStream {
	if d > 0 {
		w.chunk = d
	}
	return w
}

// Paced makes Run sleep one chunk duration between chunks.
func (w *WAVStream) Paced(paced bool) *WAVStream {
	w.paced = paced
	return w
}

// Format returns the format declared in the file header.
func (w *WAVStream) Format() Format {
	return w.format
}

// Run decodes the file and emits it chunk by chunk. It returns nil at the end
// of the data chunk.
func (w *WAVStream) Run(ctx context.Context, emit func([]byte)) error {
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("audio: open %s: %w", w.path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("audio: seek to PCM data: %w", err)
	}

	frames := int(w.chunk.Seconds() * float64(w.format.SampleRate))
	if frames < 1 {
		frames = 1
	}
	buf := &goaudio.IntBuffer{
		Format:         dec.Format(),
		Data:           make([]int, frames*w.format.Channels),
		SourceBitDepth: w.format.BitDepth,
	}

	var ticker *time.Ticker
	if w.paced {
		ticker = time.NewTicker(w.chunk)
		defer ticker.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := dec.PCMBuffer(buf)
		// keep whole frames only
		if whole := n - n%w.format.Channels; whole > 0 {
			emit(encodeInts(buf.Data[:whole], w.format.BitDepth))
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("audio: decode %s: %w", w.path, err)
		}
		if n == 0 || err != nil {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

// encodeInts packs decoded sample values back into little-endian PCM.
func encodeInts(data []int, bitDepth int) []byte {
	if bitDepth == 8 {
		out := make([]byte, len(data))
		for i, v := range data {
			out[i] = byte(v)
		}
		return out
	}
	samples := make([]int16, len(data))
	for i, v := range data {
		samples[i] = int16(v)
	}
	return Int16ToBytes(samples)
}
