// Package resample converts mono 16-bit PCM between sample rates with
// linear interpolation. A Resampler is stateful: it carries the interpolation
// phase and the last input sample from one call to the next, so feeding a
// stream chunk by chunk yields the same samples as resampling it in one go.
//
// Interpolation starts from the carried last sample, so the output lags the
// input by one input sample and a fresh Resampler begins from the reset
// (zero) sample.
package resample

import (
	"math"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

// State is a snapshot of a Resampler.
type State struct {
	InputRate  int
	OutputRate int
	// Ratio is OutputRate / InputRate.
	Ratio float64
	// LastSample is the final input sample of the previous call.
	LastSample int16
	// FractionalIndex is the interpolation phase carried into the next
	// call, always in [0, 1).
	FractionalIndex float64

	SamplesProcessed int64
	SamplesOutput    int64
}

// Resampler converts one mono stream from InputRate to OutputRate.
// It is not safe for concurrent use.
type Resampler struct {
	state State
}

// New returns a Resampler in its reset state.
func New(inputRate, outputRate int) *Resampler {
	r := &Resampler{state: State{
		InputRate:  inputRate,
		OutputRate: outputRate,
		Ratio:      float64(outputRate) / float64(inputRate),
	}}
	r.Reset()
	return r
}

// Reset clears the carried phase, last sample and counters.
func (r *Resampler) Reset() {
	r.state.LastSample = 0
	r.state.FractionalIndex = 0
	r.state.SamplesProcessed = 0
	r.state.SamplesOutput = 0
}

// State returns a copy of the resampler state.
func (r *Resampler) State() State {
	return r.state
}

// Passthrough reports whether input and output rates are equal.
func (r *Resampler) Passthrough() bool {
	return r.state.InputRate == r.state.OutputRate
}

// Resample converts little-endian 16-bit PCM. With equal rates the input
// slice itself is returned.
func (r *Resampler) Resample(data []byte) []byte {
	if r.Passthrough() {
		return data
	}
	return audio.Int16ToBytes(r.ResampleSamples(audio.BytesToInt16(data)))
}

// ResampleSamples converts N samples into ceil(N * Ratio) samples.
func (r *Resampler) ResampleSamples(in []int16) []int16 {
	if r.Passthrough() {
		return in
	}
	n := len(in)
	if n == 0 {
		return []int16{}
	}

	inRate := int64(r.state.InputRate)
	outRate := int64(r.state.OutputRate)
	outCount := (int64(n)*outRate + inRate - 1) / inRate

	out := make([]int16, outCount)
	frac := r.state.FractionalIndex
	for i := int64(0); i < outCount; i++ {
		// Positions are measured from the previous call's last sample
		// (index -1), so output between chunks interpolates across the seam.
		pos := float64(i*inRate)/float64(outRate) + frac - 1
		idx0 := int(math.Floor(pos))
		idx1 := idx0 + 1
		if idx1 > n-1 {
			idx1 = n - 1
		}

		var s0 float64
		if idx0 < 0 {
			s0 = float64(r.state.LastSample)
		} else {
			if idx0 > n-1 {
				idx0 = n - 1
			}
			s0 = float64(in[idx0])
		}
		var s1 float64
		if idx1 < 0 {
			s1 = float64(r.state.LastSample)
		} else {
			s1 = float64(in[idx1])
		}

		out[i] = audio.ClampInt16(s0 + (s1-s0)*(pos-math.Floor(pos)))
	}

	// The next output lands overshoot input samples past the end of this
	// chunk; keep only its phase.
	overshoot := float64(outCount*inRate-int64(n)*outRate) / float64(outRate)
	frac += overshoot
	frac -= math.Floor(frac)

	r.state.FractionalIndex = frac
	r.state.LastSample = in[n-1]
	r.state.SamplesProcessed += int64(n)
	r.state.SamplesOutput += outCount
	return out
}
