// Package hazard classifies continuous probability fields into the discrete
// bands of a hazard scale.
package hazard

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidScale reports a scale whose bounds or colours are inconsistent.
var ErrInvalidScale = errors.New("invalid hazard scale")

// Scale is an ordered set of band boundaries with one colour per interval.
// Band k covers [Bounds[k], Bounds[k+1]).
type Scale struct {
	Bounds []float64 `yaml:"bounds"`
	Colors []string  `yaml:"colors"`
}

// ThunderstormScale returns the WarnMOS thunderstorm-probability scale in
// percent. The palette is the one the operational charts display, where the
// top band [98, 100] is drawn in #660179.
func ThunderstormScale() Scale {
	return Scale{
		Bounds: []float64{0, 1, 2, 5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 98, 100},
		Colors: []string{
			"#056B6F", "#079833", "#08B015", "#40C50C", "#7DD608",
			"#9BE105", "#BBEA04", "#DBF402", "#FFF600", "#FEDC00",
			"#FFAD00", "#FF6300", "#E50014", "#BC0035", "#660179",
		},
	}
}

// Bands returns the number of intervals.
func (s Scale) Bands() int { return len(s.Bounds) - 1 }

// Validate checks that bounds strictly increase and that there is exactly
// one parseable colour per interval.
func (s Scale) Validate() error {
	if len(s.Bounds) < 2 {
		return fmt.Errorf("%w: need at least two bounds, got %d", ErrInvalidScale, len(s.Bounds))
	}
	for k, b := range s.Bounds {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("%w: bound %d is %g", ErrInvalidScale, k, b)
		}
		if k > 0 && b <= s.Bounds[k-1] {
			return fmt.Errorf("%w: bounds not strictly increasing at %d (%g <= %g)", ErrInvalidScale, k, b, s.Bounds[k-1])
		}
	}
	if len(s.Colors) != s.Bands() {
		return fmt.Errorf("%w: %d colors for %d intervals", ErrInvalidScale, len(s.Colors), s.Bands())
	}
	for k, c := range s.Colors {
		if _, err := ParseHex(c); err != nil {
			return fmt.Errorf("%w: color %d: %v", ErrInvalidScale, k, err)
		}
	}
	return nil
}

// Classify returns the band index of v. Values below the first bound fall in
// band 0, values at or above the last bound in the last band, and NaN in
// band 0; the result is always a valid index.
func Classify(v float64, s Scale) int {
	last := s.Bands() - 1
	switch {
	case math.IsNaN(v), v < s.Bounds[0]:
		return 0
	case v >= s.Bounds[len(s.Bounds)-1]:
		return last
	}
	// First bound strictly greater than v, minus one.
	k := sort.SearchFloat64s(s.Bounds, v)
	if k < len(s.Bounds) && s.Bounds[k] == v {
		return min(k, last)
	}
	return k - 1
}

// ClassifyField classifies every value of a field.
func ClassifyField(values []float64, s Scale) []int {
	out := make([]int, len(values))
	for k, v := range values {
		out[k] = Classify(v, s)
	}
	return out
}

// Palette resolves the scale's colours. The scale must be valid.
func (s Scale) Palette() []color.RGBA {
	out := make([]color.RGBA, len(s.Colors))
	for k, c := range s.Colors {
		out[k], _ = ParseHex(c)
	}
	return out
}

// ParseHex parses "#RRGGBB" or "RRGGBB".
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
