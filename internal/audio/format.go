// Package audio holds the PCM primitives shared by the capture pipeline:
// stream formats, sample codecs, downmixing, and the Stream sources that
// feed the mixer (capture devices, PulseAudio, WAV files).
package audio

import "fmt"

// Format describes a PCM stream. One Format exists per logical source
// (microphone, system audio) and one for the mixed output.
type Format struct {
	SampleRate int `yaml:"sample_rate" json:"sampleRate"`
	Channels   int `yaml:"channels" json:"channels"`
	BitDepth   int `yaml:"bit_depth" json:"bitDepth"`
}

// BytesPerSample returns the size of one sample of one channel.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// FrameSize returns the size of one sample across all channels.
func (f Format) FrameSize() int {
	return f.BytesPerSample() * f.Channels
}

// ByteRate returns the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// Validate checks that the format is one the pipeline can carry.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	if f.BitDepth != 8 && f.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 8 or 16, got %d", f.BitDepth)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}
