// Package audio provides the PCM primitives of the pipeline: sample
// encoding helpers, 16 kHz to 24 kHz resampling, level measurement and a
// bounded frame queue with drop-oldest overflow.
//
// All PCM in this package is 16-bit signed little-endian mono.
package audio

// Stream constants. Clients capture at 16 kHz in 20 ms frames; the
// transcription upstream expects 24 kHz.
const (
	SampleRateClient = 16000
	SampleRateSTT    = 24000
	FrameDurationMs  = 20

	// FrameSamplesClient and FrameSamplesSTT are the per-frame sample counts
	// at the two rates.
	FrameSamplesClient = SampleRateClient * FrameDurationMs / 1000
	FrameSamplesSTT    = SampleRateSTT * FrameDurationMs / 1000
)

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian int16 PCM.
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
