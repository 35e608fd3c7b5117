package capture

import "math"

// Resample converts mono float32 samples from fromRate to toRate using linear
// interpolation. Equal rates return samples unchanged. The output has
// floor(len(samples)/ratio) samples where ratio = fromRate/toRate.
//
// This is a cheap unfiltered converter; downstream energy detectors and
// speech models tolerate the aliasing it introduces.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	if len(samples) == 0 {
		return []float32{}
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)
	last := len(samples) - 1

	for i := range outLen {
		pos := float64(i) * ratio
		lo := int(pos)
		hi := min(lo+1, last)
		lo = min(lo, last)
		frac := float32(pos - float64(lo))
		out[i] = samples[lo]*(1-frac) + samples[hi]*frac
	}
	return out
}

// deviceSamplesFor returns how many device-rate samples are needed to
// produce n samples at the target rate: ceil(n * deviceRate/targetRate).
func deviceSamplesFor(n, deviceRate, targetRate int) int {
	if deviceRate == targetRate || targetRate <= 0 {
		return n
	}
	return int(math.Ceil(float64(n) * float64(deviceRate) / float64(targetRate)))
}

// FitPCM16 truncates pcm or pads it with zeros so that it has exactly n
// samples.
func FitPCM16(pcm []int16, n int) []int16 {
	if len(pcm) == n {
		return pcm
	}
	if len(pcm) > n {
		return pcm[:n]
	}
	out := make([]int16, n)
	copy(out, pcm)
	return out
}
