package utils

import (
	"math"
	"strings"
)

// ValidateCoordinates checks an optional latitude/longitude pair.
// Both must be set together.
func ValidateCoordinates(lat, lng *float64) error {
	if lat == nil && lng == nil {
		return nil
	}
	if lat == nil || lng == nil {
		return ErrInvalidConfig("location", "latitude and longitude must be given together")
	}
	if math.IsNaN(*lat) || math.IsNaN(*lng) || *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return ErrInvalidCoordinates(*lat, *lng)
	}
	return nil
}

// NormalizeNotes trims free-text notes and caps their length
func NormalizeNotes(notes string, max int) string {
	notes = strings.TrimSpace(notes)
	if max > 0 && len([]rune(notes)) > max {
		notes = string([]rune(notes)[:max])
	}
	return notes
}
