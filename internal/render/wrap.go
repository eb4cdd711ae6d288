package render

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Measurer reports the rendered width of a string in pixels.
type Measurer func(s string) float64

// WrapText breaks text into lines that fit maxWidth. Latin words move as a
// unit; CJK and other full-width runes break per rune so mixed copy wraps
// the way poster text is expected to. Explicit newlines always force a
// break. A token wider than the box is kept on its own line rather than
// dropped.
func WrapText(text string, maxWidth float64, measure Measurer) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		lines = append(lines, wrapParagraph(paragraph, maxWidth, measure)...)
	}
	return lines
}

type token struct {
	text   string
	joined bool // glued to the previous token without a space
}

func wrapParagraph(paragraph string, maxWidth float64, measure Measurer) []string {
	tokens := tokenize(paragraph)
	if len(tokens) == 0 {
		return []string{""}
	}
	var lines []string
	line := ""
	for _, tok := range tokens {
		candidate := tok.text
		if line != "" {
			if tok.joined {
				candidate = line + tok.text
			} else {
				candidate = line + " " + tok.text
			}
		}
		if line == "" || measure(candidate) <= maxWidth {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = tok.text
	}
	return append(lines, line)
}

// tokenize splits a paragraph into wrap units: whitespace separates Latin
// words, and every full-width rune stands alone so CJK text can break
// anywhere.
func tokenize(paragraph string) []token {
	var tokens []token
	var run strings.Builder
	spaced := false
	flush := func() {
		if run.Len() == 0 {
			return
		}
		tokens = append(tokens, token{text: run.String(), joined: !spaced && len(tokens) > 0})
		run.Reset()
		spaced = false
	}
	for _, r := range paragraph {
		switch {
		case unicode.IsSpace(r):
			flush()
			spaced = true
		case isWide(r):
			flush()
			tokens = append(tokens, token{text: string(r), joined: !spaced && len(tokens) > 0})
			spaced = false
		default:
			run.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func isWide(r rune) bool {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return true
	}
	return false
}
