// Package rate maps the host's speed setting onto the waveform-domain tempo
// stage applied just before the audio sink. Rate never influences
// segmentation or inference; it only changes how decoded samples are played
// back, so a better time-stretch algorithm can replace the resampler without
// touching the rest of the pipeline.
package rate

import "encoding/binary"

// Host rate scale. The screen-reader host exposes 0-100; the driver maps it
// linearly onto a speed factor of 0.7x to 2.0x. The default host rate of 27
// lands at roughly 1.05x.
const (
	MinFactor = 0.7
	MaxFactor = 2.0

	DefaultHostRate = 27
)

// FactorFromHostRate converts a host rate (0-100) to a speed factor.
// Out-of-range rates are clamped.
func FactorFromHostRate(rate int) float64 {
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	return MinFactor + float64(rate)/100.0*(MaxFactor-MinFactor)
}

// ClampFactor forces a speed factor into the supported range.
func ClampFactor(factor float64) float64 {
	if factor < MinFactor {
		return MinFactor
	}
	if factor > MaxFactor {
		return MaxFactor
	}
	return factor
}

// Resample tempo-adjusts 16-bit little-endian mono PCM by linear
// interpolation. A factor above 1.0 shortens the waveform (faster speech),
// below 1.0 lengthens it. A factor of 1.0 returns pcm unchanged.
//
// This is a plain resampler, so pitch shifts along with tempo. The stage is
// the seam where a phase-vocoder stretch would slot in.
func Resample(pcm []byte, factor float64) []byte {
	if factor == 1.0 || len(pcm) < 4 {
		return pcm
	}
	factor = ClampFactor(factor)

	in := len(pcm) / 2
	out := int(float64(in) / factor)
	if out < 1 {
		out = 1
	}

	resampled := make([]byte, out*2)
	step := float64(in-1) / float64(out)

	for i := 0; i < out; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := s0
		if idx+1 < in {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		}

		sample := float64(s0) + (float64(s1)-float64(s0))*frac
		binary.LittleEndian.PutUint16(resampled[i*2:], uint16(int16(sample)))
	}

	return resampled
}
