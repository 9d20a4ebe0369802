package render

import (
	"math"
	"strings"
)

const (
	ptToMM            = 25.4 / 72
	defaultLineHeight = 1.2
	shrinkStep        = 0.5
	ellipsis          = "..."
)

// measureFunc returns the width of s in mm at the current font size
type measureFunc func(s string) float64

// wrapText breaks text into lines no wider than width. Explicit newlines are
// kept; a single word wider than the box is broken between runes.
func wrapText(text string, width float64, measure measureFunc) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if measure(candidate) <= width {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
			}
			if measure(word) <= width {
				current = word
				continue
			}
			pieces := breakWord(word, width, measure)
			lines = append(lines, pieces[:len(pieces)-1]...)
			current = pieces[len(pieces)-1]
		}
		lines = append(lines, current)
	}
	return lines
}

func breakWord(word string, width float64, measure measureFunc) []string {
	var pieces []string
	var current []rune
	for _, r := range word {
		next := append(current, r)
		if len(current) > 0 && measure(string(next)) > width {
			pieces = append(pieces, string(current))
			current = []rune{r}
			continue
		}
		current = next
	}
	return append(pieces, string(current))
}

// layoutLines splits text for the box, wrapping only when asked
func layoutLines(text string, width float64, wrap bool, measure measureFunc) []string {
	if wrap {
		return wrapText(text, width, measure)
	}
	return strings.Split(text, "\n")
}

func linesFit(lines []string, width, height, lineHeight float64, measure measureFunc) bool {
	if float64(len(lines))*lineHeight > height+1e-9 {
		return false
	}
	for _, line := range lines {
		if measure(line) > width+1e-9 {
			return false
		}
	}
	return true
}

// truncateLines keeps as many lines as fit vertically (at least one) and cuts
// the last kept line, or any over-wide line, with an ellipsis.
func truncateLines(lines []string, width, height, lineHeight float64, measure measureFunc) []string {
	maxLines := int(math.Floor((height + 1e-9) / lineHeight))
	if maxLines < 1 {
		maxLines = 1
	}

	out := make([]string, 0, maxLines)
	for i, line := range lines {
		if i == maxLines {
			break
		}
		cut := i == maxLines-1 && len(lines) > maxLines
		if cut || measure(line) > width+1e-9 {
			line = ellipsize(line, width, measure)
		}
		out = append(out, line)
	}
	return out
}

func ellipsize(line string, width float64, measure measureFunc) string {
	runes := []rune(strings.TrimRight(line, " "))
	for len(runes) > 0 {
		candidate := strings.TrimRight(string(runes), " ") + ellipsis
		if measure(candidate) <= width+1e-9 {
			return candidate
		}
		runes = runes[:len(runes)-1]
	}
	if measure(ellipsis) <= width+1e-9 {
		return ellipsis
	}
	return ""
}
