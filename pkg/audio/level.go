package audio

import "math"

const (
	// MinLevelDB is the floor reported for empty or silent audio.
	MinLevelDB = -60.0
	// MaxLevelDB caps the reported level at full scale.
	MaxLevelDB = 0.0
)

// CalculateLevel returns the RMS level of int16 PCM in dBFS, clamped to
// [MinLevelDB, MaxLevelDB]. Empty or all-zero input reports MinLevelDB.
func CalculateLevel(pcm []byte) float64 {
	samples := BytesToSamples(pcm)
	if len(samples) == 0 {
		return MinLevelDB
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return MinLevelDB
	}
	db := 20 * math.Log10(rms)
	return math.Min(MaxLevelDB, math.Max(MinLevelDB, db))
}

// Normalize scales int16 PCM so its RMS level reaches targetDB, clipping
// samples that would exceed full scale. Silent input is returned unchanged.
func Normalize(pcm []byte, targetDB float64) []byte {
	current := CalculateLevel(pcm)
	if current <= MinLevelDB {
		return pcm
	}
	gain := math.Pow(10, (targetDB-current)/20)
	samples := BytesToSamples(pcm)
	for i, s := range samples {
		samples[i] = clampInt16(math.Round(float64(s) * gain))
	}
	return SamplesToBytes(samples)
}
