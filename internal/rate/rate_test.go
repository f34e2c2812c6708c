package rate

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestFactorFromHostRate(t *testing.T) {
	tests := []struct {
		name string
		rate int
		want float64
	}{
		{"minimum", 0, 0.7},
		{"maximum", 100, 2.0},
		{"default", DefaultHostRate, 1.051},
		{"midpoint", 50, 1.35},
		{"clamped below", -10, 0.7},
		{"clamped above", 250, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FactorFromHostRate(tt.rate)
			if math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("FactorFromHostRate(%d) = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestFactorMonotonic(t *testing.T) {
	prev := FactorFromHostRate(0)
	for r := 1; r <= 100; r++ {
		cur := FactorFromHostRate(r)
		if cur <= prev {
			t.Fatalf("factor not increasing at rate %d: %v <= %v", r, cur, prev)
		}
		prev = cur
	}
}

func TestClampFactor(t *testing.T) {
	if got := ClampFactor(0.1); got != MinFactor {
		t.Errorf("ClampFactor(0.1) = %v, want %v", got, MinFactor)
	}
	if got := ClampFactor(5.0); got != MaxFactor {
		t.Errorf("ClampFactor(5.0) = %v, want %v", got, MaxFactor)
	}
	if got := ClampFactor(1.3); got != 1.3 {
		t.Errorf("ClampFactor(1.3) = %v, want 1.3", got)
	}
}

func makeRamp(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i)))
	}
	return pcm
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		factor  float64
		want    int // output samples
	}{
		{"unchanged", 1000, 1.0, 1000},
		{"double speed halves", 1000, 2.0, 500},
		{"slower lengthens", 1000, 0.8, 1250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(makeRamp(tt.samples), tt.factor)
			if got := len(out) / 2; got != tt.want {
				t.Errorf("got %d samples, want %d", got, tt.want)
			}
		})
	}
}

func TestResampleIdentityIsSameSlice(t *testing.T) {
	pcm := makeRamp(64)
	if out := Resample(pcm, 1.0); &out[0] != &pcm[0] {
		t.Error("factor 1.0 should return the input unchanged")
	}
}

func TestResamplePreservesRampShape(t *testing.T) {
	// A linear ramp should stay monotonically non-decreasing after
	// interpolation at any factor.
	for _, factor := range []float64{0.7, 0.9, 1.3, 2.0} {
		out := Resample(makeRamp(500), factor)
		prev := int16(binary.LittleEndian.Uint16(out))
		for i := 1; i < len(out)/2; i++ {
			cur := int16(binary.LittleEndian.Uint16(out[i*2:]))
			if cur < prev {
				t.Fatalf("factor %v: ramp decreases at sample %d (%d -> %d)", factor, i, prev, cur)
			}
			prev = cur
		}
	}
}

func TestResampleTinyInput(t *testing.T) {
	// Inputs shorter than two samples pass through untouched.
	pcm := []byte{0x01, 0x02}
	if out := Resample(pcm, 2.0); len(out) != len(pcm) {
		t.Errorf("tiny input resampled: %d bytes", len(out))
	}
}
