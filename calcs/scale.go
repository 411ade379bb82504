package calcs

import "github.com/go-gl/mathgl/mgl64"

// Percent clamps p into the unit range [0, 1].
func Percent(p float64) float64 {
	if p != p { // NaN
		return 0
	}
	return mgl64.Clamp(p, 0, 1)
}

// Lerp maps a unit value onto [low, high]. p is clamped first so the result never leaves the range.
func Lerp(low, high, p float64) float64 {
	return low + Percent(p)*(high-low)
}

// FromInt converts a 0-100 wire value into a unit fraction. Values outside 0-100 are clamped.
func FromInt(val int) float64 {
	return Percent(float64(val) / 100)
}
