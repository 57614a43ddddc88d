package audio

import "math"

// Polyphase 3:2 rational resampler, fixed to the 16 kHz -> 24 kHz hop the
// pipeline needs. The filter is a windowed sinc low-pass designed at the
// upsampled rate (48 kHz) with cutoff at the input Nyquist (8 kHz), split
// into upFactor phases of tapsPerPhase taps each.
const (
	upFactor     = 3
	downFactor   = 2
	tapsPerPhase = 10
	filterLen    = upFactor * tapsPerPhase
)

var polyphase = buildPolyphaseFilter()

// buildPolyphaseFilter computes the windowed-sinc prototype and slices it
// into per-phase tap rows. Each phase has unity DC gain after normalization.
func buildPolyphaseFilter() [upFactor][tapsPerPhase]float64 {
	center := float64(filterLen-1) / 2
	proto := make([]float64, filterLen)
	for m := range filterLen {
		t := (float64(m) - center) / upFactor
		var s float64
		if t == 0 {
			s = 1
		} else {
			s = math.Sin(math.Pi*t) / (math.Pi * t)
		}
		// Blackman window.
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(m)/float64(filterLen-1)) +
			0.08*math.Cos(4*math.Pi*float64(m)/float64(filterLen-1))
		proto[m] = s * w
	}

	var bank [upFactor][tapsPerPhase]float64
	for phase := range upFactor {
		sum := 0.0
		for k := range tapsPerPhase {
			bank[phase][k] = proto[phase+k*upFactor]
			sum += bank[phase][k]
		}
		for k := range tapsPerPhase {
			bank[phase][k] /= sum
		}
	}
	return bank
}

// Resample16kTo24k converts 16 kHz little-endian int16 PCM to 24 kHz. The
// output always holds exactly floor(3*N/2) samples for N input samples.
// Edge samples are clamped, so frames may be resampled independently.
func Resample16kTo24k(pcm []byte) []byte {
	in := BytesToSamples(pcm)
	n := len(in)
	if n == 0 {
		return []byte{}
	}

	outSamples := n * upFactor / downFactor
	out := make([]int16, outSamples)
	centerOffset := tapsPerPhase / 2

	for i := range outSamples {
		up := i * downFactor
		phase := up % upFactor
		base := up/upFactor + centerOffset

		acc := 0.0
		for k := range tapsPerPhase {
			idx := base - k
			if idx < 0 {
				idx = 0
			} else if idx >= n {
				idx = n - 1
			}
			acc += polyphase[phase][k] * float64(in[idx])
		}
		out[i] = clampInt16(math.Round(acc))
	}
	return SamplesToBytes(out)
}
