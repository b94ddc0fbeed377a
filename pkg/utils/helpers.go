package utils

import (
	"math"
	"strings"
)

// Clamp limits a value between min and max
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// RoundTo rounds a float to specified decimal places
func RoundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}

// ZeroPad left-pads s with zeros up to width characters
func ZeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// IsDigits reports whether s is a non-empty run of ASCII digits
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Progress returns fetched/total as a fraction in [0, 1]; an empty total counts as done
func Progress(fetched, total int) float64 {
	if total <= 0 {
		return 1
	}
	return Clamp(float64(fetched)/float64(total), 0, 1)
}
