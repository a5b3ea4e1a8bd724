// Package sentence splits reply text into the units spoken one at a time.
package sentence

import "strings"

// Unit is one punctuation-delimited piece of text.
type Unit struct {
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split breaks text after every run of sentence terminators. Each unit keeps
// its punctuation and is trimmed of surrounding whitespace. Text after the
// last terminator becomes a final unit; blank pieces are dropped.
func Split(text string) []Unit {
	var (
		units []Unit
		start int
	)

	emit := func(end int) {
		piece := strings.TrimSpace(text[start:end])
		start = end
		if piece == "" {
			return
		}
		units = append(units, Unit{Text: piece, Ordinal: len(units)})
	}

	inRun := false
	for i, r := range text {
		if isTerminator(r) {
			inRun = true
			continue
		}
		if inRun {
			emit(i)
			inRun = false
		}
	}
	emit(len(text))

	return units
}

// Join rebuilds display text from units.
func Join(units []Unit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.Text
	}
	return strings.Join(parts, " ")
}
