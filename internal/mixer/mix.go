package mixer

import (
	"math"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

// Calibration constants. Both were tuned by ear against a laptop microphone
// and WASAPI loopback; other hardware may need different values (see Options).
const (
	// SilenceThreshold is the block RMS (full scale = 1) below which a
	// source counts as silent, roughly -60 dBFS.
	SilenceThreshold = 0.001
	// HeadroomGain scales the sum of two live sources.
	HeadroomGain = 0.7
)

// Mix16 mixes two equal-length blocks of 16-bit little-endian mono PCM.
//
// If both blocks are silent they are averaged. If exactly one is silent the
// other is returned unchanged. Otherwise each output sample is
// round((a+b)*gain), clamped to the int16 range.
func Mix16(a, b []byte, silence, gain float64) []byte {
	sa := audio.BytesToInt16(a)
	sb := audio.BytesToInt16(b)
	n := min(len(sa), len(sb))
	sa, sb = sa[:n], sb[:n]

	quietA := audio.RMS16(sa) < silence
	quietB := audio.RMS16(sb) < silence

	switch {
	case quietA && !quietB:
		return audio.Int16ToBytes(sb)
	case quietB && !quietA:
		return audio.Int16ToBytes(sa)
	}

	out := make([]int16, n)
	for i := range out {
		sum := float64(sa[i]) + float64(sb[i])
		if quietA && quietB {
			out[i] = audio.ClampInt16(math.Round(sum / 2))
		} else {
			out[i] = audio.ClampInt16(math.Round(sum * gain))
		}
	}
	return audio.Int16ToBytes(out)
}

// Mix8 is Mix16 for unsigned 8-bit PCM, where 128 is the zero level.
func Mix8(a, b []byte, silence, gain float64) []byte {
	n := min(len(a), len(b))
	a, b = a[:n], b[:n]

	quietA := audio.RMS8(a) < silence
	quietB := audio.RMS8(b) < silence

	out := make([]byte, n)
	switch {
	case quietA && !quietB:
		copy(out, b)
		return out
	case quietB && !quietA:
		copy(out, a)
		return out
	}

	for i := range out {
		ca := float64(a[i]) - 128
		cb := float64(b[i]) - 128
		if quietA && quietB {
			out[i] = audio.ClampUint8(math.Round((ca+cb)/2) + 128)
		} else {
			out[i] = audio.ClampUint8(math.Round((ca+cb)*gain) + 128)
		}
	}
	return out
}
