package models

import (
	"fmt"
	"strings"
)

// Mood is the closed set of moods a pulse may carry
type Mood string

const (
	MoodHappy     Mood = "happy"
	MoodSad       Mood = "sad"
	MoodStressed  Mood = "stressed"
	MoodCalm      Mood = "calm"
	MoodEnergized Mood = "energized"
	MoodTired     Mood = "tired"
)

// Moods lists every member of the enumeration in display order
var Moods = []Mood{MoodHappy, MoodSad, MoodStressed, MoodCalm, MoodEnergized, MoodTired}

// ParseMood matches a raw value against the enumeration, case-insensitively.
// Unknown values are an error; there is no fallback.
func ParseMood(raw string) (Mood, error) {
	switch Mood(strings.ToLower(strings.TrimSpace(raw))) {
	case MoodHappy:
		return MoodHappy, nil
	case MoodSad:
		return MoodSad, nil
	case MoodStressed:
		return MoodStressed, nil
	case MoodCalm:
		return MoodCalm, nil
	case MoodEnergized:
		return MoodEnergized, nil
	case MoodTired:
		return MoodTired, nil
	default:
		return "", fmt.Errorf("unknown mood %q", raw)
	}
}

// Valid reports whether m is a member of the enumeration
func (m Mood) Valid() bool {
	switch m {
	case MoodHappy, MoodSad, MoodStressed, MoodCalm, MoodEnergized, MoodTired:
		return true
	}
	return false
}
