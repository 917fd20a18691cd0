package wavfile

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

// Info describes a WAV file as a standard decoder sees it.
type Info struct {
	Format audio.Format
	// DataSize is the data chunk length declared in the header.
	DataSize int64
	FileSize int64
	Duration time.Duration
}

// Complete reports whether the header accounts for every byte in the file.
// A file that is still being written may have up to one header interval of
// trailing audio the header does not cover yet.
func (i Info) Complete() bool {
	return i.FileSize == HeaderSize+i.DataSize
}

// Inspect decodes the header of the WAV file at path. It works on files that
// are still being recorded.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("wavfile: stat %s: %w", path, err)
	}

	// IsValidFile rejects an empty data chunk, which is exactly what a
	// freshly opened recording has.
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Info{}, fmt.Errorf("wavfile: %s: read header: %w", path, err)
	}
	if dec.NumChans < 1 || dec.BitDepth < 8 {
		return Info{}, fmt.Errorf("wavfile: %s is not a valid WAV file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("wavfile: %s: locate data chunk: %w", path, err)
	}

	info := Info{
		Format: audio.Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
		DataSize: int64(dec.PCMSize),
		FileSize: st.Size(),
	}
	if rate := info.Format.ByteRate(); rate > 0 {
		info.Duration = time.Duration(float64(info.DataSize) / float64(rate) * float64(time.Second))
	}
	return info, nil
}
