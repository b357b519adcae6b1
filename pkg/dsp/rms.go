package dsp

import "math"

// RMS returns the root-mean-square of samples. It returns 0 for an empty
// slice. NaN samples count as zero.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSInt16 returns the root-mean-square of 16-bit PCM samples, normalised to
// the [-1, 1] range by dividing each sample by 32768.
func RMSInt16(samples []int16) float64 {
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

// AmplitudeToDB converts a linear amplitude to decibels relative to full
// scale (20·log10). Non-positive amplitudes map to -Inf.
func AmplitudeToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}
