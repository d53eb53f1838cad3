package peaks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectPlateauUsesMiddle(t *testing.T) {
	x := []float64{0, 200, 200, 200, 0}
	assert.Equal(t, []int{2}, Detect(x, DefaultParams()))
}

func TestDetectHeightFilter(t *testing.T) {
	x := []float64{0, 50, 0, 200, 0}
	got := Detect(x, Params{Height: 100, Distance: 1})
	assert.Equal(t, []int{3}, got)
}

func TestDetectDistanceKeepsTallest(t *testing.T) {
	x := []float64{0, 150, 0, 200, 0, 0}
	got := Detect(x, Params{Height: 100, Distance: 40})
	assert.Equal(t, []int{3}, got)
}

func TestDetectProminenceFilter(t *testing.T) {
	x := []float64{100, 300, 295, 296, 290, 400, 0}
	got := Detect(x, Params{Height: 100, Prominence: 5, Distance: 1})
	assert.Equal(t, []int{1, 5}, got)
	assert.InDelta(t, 1.0, Prominence(x, 3), 1e-9)
	assert.InDelta(t, 10.0, Prominence(x, 1), 1e-9)
}

func TestDetectEmpty(t *testing.T) {
	got := Detect(nil, DefaultParams())
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = Detect([]float64{500, 400, 300}, DefaultParams())
	assert.Empty(t, got)
}

func triangle(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		phase := i % 50
		if phase > 25 {
			phase = 50 - phase
		}
		out[i] = 100 + float64(phase)*8
	}
	return out
}

func TestDetectExtensionKeepsEarlierPeaks(t *testing.T) {
	base := triangle(200)
	extended := triangle(300)

	first := Detect(base, DefaultParams())
	again := Detect(base, DefaultParams())
	assert.Equal(t, first, again)
	assert.Equal(t, []int{25, 75, 125, 175}, first)

	grown := Detect(extended, DefaultParams())
	for _, p := range first {
		assert.Contains(t, grown, p)
	}
	assert.Equal(t, []int{25, 75, 125, 175, 225, 275}, grown)
}

func TestNextAfterLastBefore(t *testing.T) {
	sorted := []int{5, 20, 40}

	next, ok := NextAfter(sorted, 5)
	assert.True(t, ok)
	assert.Equal(t, 20, next)

	next, ok = NextAfter(sorted, 0)
	assert.True(t, ok)
	assert.Equal(t, 5, next)

	_, ok = NextAfter(sorted, 40)
	assert.False(t, ok)

	last, ok := LastBefore(sorted, 20)
	assert.True(t, ok)
	assert.Equal(t, 5, last)

	last, ok = LastBefore(sorted, 100)
	assert.True(t, ok)
	assert.Equal(t, 40, last)

	_, ok = LastBefore(sorted, 5)
	assert.False(t, ok)
}
