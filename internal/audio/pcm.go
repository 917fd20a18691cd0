package audio

import (
	"encoding/binary"
	"math"
)

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ClampInt16 rounds v half away from zero and clamps it to the int16 range.
func ClampInt16(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

// ClampUint8 rounds v half away from zero and clamps it to [0, 255].
func ClampUint8(v float64) uint8 {
	r := math.Round(v)
	if r > math.MaxUint8 {
		return math.MaxUint8
	}
	if r < 0 {
		return 0
	}
	return uint8(r)
}

// DownmixStereo16 converts interleaved 16-bit stereo to mono by averaging
// each left/right pair. An incomplete trailing frame is dropped.
func DownmixStereo16(data []byte) []byte {
	frames := len(data) / 4
	out := make([]byte, frames*2)
	for f := 0; f < frames; f++ {
		l := int16(binary.LittleEndian.Uint16(data[f*4:]))
		r := int16(binary.LittleEndian.Uint16(data[f*4+2:]))
		m := ClampInt16((float64(l) + float64(r)) / 2)
		binary.LittleEndian.PutUint16(out[f*2:], uint16(m))
	}
	return out
}

// DownmixStereo8 is DownmixStereo16 for unsigned 8-bit PCM.
func DownmixStereo8(data []byte) []byte {
	frames := len(data) / 2
	out := make([]byte, frames)
	for f := 0; f < frames; f++ {
		out[f] = ClampUint8((float64(data[f*2]) + float64(data[f*2+1])) / 2)
	}
	return out
}

// Downmix converts stereo PCM in format f to mono. Mono input is returned as is.
func Downmix(data []byte, f Format) []byte {
	if f.Channels != 2 {
		return data
	}
	if f.BitDepth == 8 {
		return DownmixStereo8(data)
	}
	return DownmixStereo16(data)
}

// RMS16 returns the root-mean-square level of 16-bit samples normalized to [0, 1].
func RMS16(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMS8 returns the root-mean-square level of unsigned 8-bit samples,
// centered on 128 and normalized to [0, 1].
func RMS8(samples []byte) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := (float64(s) - 128) / 128
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
