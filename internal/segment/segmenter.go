// Package segment splits host utterances into ordered synthesizable units.
package segment

import (
	"strings"
	"unicode"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

// DefaultMaxUnitLen is the rune length above which a sentence is further
// split at clause boundaries so a single unit never stalls first-audio
// latency for too long.
const DefaultMaxUnitLen = 200

// Segmenter splits utterance text at linguistically safe boundaries so each
// unit can be synthesized independently. It assigns strictly increasing
// sequence numbers starting at 0 and propagates voice style, quality steps,
// and rate unchanged to every unit.
type Segmenter struct {
	maxUnitLen int

	// Common abbreviations that don't end sentences
	abbreviations map[string]bool
}

// NewSegmenter creates a segmenter. maxUnitLen caps unit length in runes;
// zero or negative selects DefaultMaxUnitLen.
func NewSegmenter(maxUnitLen int) *Segmenter {
	if maxUnitLen <= 0 {
		maxUnitLen = DefaultMaxUnitLen
	}
	return &Segmenter{
		maxUnitLen:    maxUnitLen,
		abbreviations: makeAbbreviationMap(),
	}
}

// Segment converts an utterance into its ordered units. Empty or
// whitespace-only text yields an empty slice, not an error. The last unit
// is marked Final.
func (s *Segmenter) Segment(u ttypes.Utterance) []ttypes.Unit {
	text := Normalize(u.Text)
	if text == "" {
		return nil
	}

	spans := s.splitSentences(text)

	var clauses []string
	for _, span := range spans {
		clauses = append(clauses, s.splitOversize(span)...)
	}

	units := make([]ttypes.Unit, 0, len(clauses))
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		units = append(units, ttypes.Unit{
			UtteranceID:  u.ID,
			Text:         clause,
			Voice:        u.Voice,
			QualitySteps: u.QualitySteps,
			RateFactor:   u.RateFactor,
			Seq:          len(units),
			Epoch:        u.Epoch,
		})
	}

	if len(units) > 0 {
		units[len(units)-1].Final = true
	}

	return units
}

// Normalize collapses whitespace runs to single spaces and drops control
// characters the model cannot voice.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true // trims leading whitespace
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// skip
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// splitSentences finds sentence boundaries and returns the sentence spans
// in order.
func (s *Segmenter) splitSentences(text string) []string {
	runes := []rune(text)

	var spans []string
	lastStart := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}

		// Collect trailing punctuation and any closing quote or bracket.
		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		if end < len(runes) && isClosing(runes[end]) {
			end++
		}

		if !s.isSentenceEnd(runes, i) {
			continue
		}

		spans = append(spans, string(runes[lastStart:end]))

		// Skip whitespace to the start of the next sentence.
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		lastStart = end
		i = end - 1
	}

	if lastStart < len(runes) {
		if remaining := strings.TrimSpace(string(runes[lastStart:])); remaining != "" {
			spans = append(spans, remaining)
		}
	}

	return spans
}

// splitOversize breaks a sentence longer than maxUnitLen at clause
// punctuation, falling back to the last space before the limit.
func (s *Segmenter) splitOversize(sentence string) []string {
	runes := []rune(sentence)
	if len(runes) <= s.maxUnitLen {
		return []string{sentence}
	}

	var parts []string
	for len(runes) > s.maxUnitLen {
		cut := -1
		for i := s.maxUnitLen; i > 0; i-- {
			if isClauseBreak(runes[i-1]) {
				cut = i
				break
			}
		}
		if cut < 0 {
			for i := s.maxUnitLen; i > 0; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
		}
		if cut <= 0 {
			// One unbroken token longer than the limit; hard split.
			cut = s.maxUnitLen
		}

		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}

	return parts
}

// isSentenceEnd checks whether the punctuation at pos really ends a
// sentence, filtering out abbreviations, decimal numbers, and ellipses.
func (s *Segmenter) isSentenceEnd(runes []rune, pos int) bool {
	punct := runes[pos]

	if punct == '.' {
		// Word preceding the period, including the period itself.
		start := pos - 1
		for start >= 0 && !unicode.IsSpace(runes[start]) {
			start--
		}
		wordBefore := strings.ToLower(string(runes[start+1 : pos+1]))

		if s.abbreviations[wordBefore] || s.abbreviations[strings.TrimSuffix(wordBefore, ".")] {
			return false
		}
		// Multi-part abbreviations like "ph.d." or "u.s."
		if strings.Count(wordBefore, ".") > 1 {
			return false
		}

		// Decimal numbers: "3.14" does not end a sentence.
		if pos > 0 && pos+1 < len(runes) &&
			unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}

		// Ellipsis.
		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
	}

	next := pos + 1
	for next < len(runes) && isClosing(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if unicode.IsUpper(runes[next]) || unicode.IsDigit(runes[next]) {
		return true
	}

	// Exclamation and question marks are reliable enders even before
	// lowercase continuations.
	return punct == '!' || punct == '?'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']'
}

func isClauseBreak(r rune) bool {
	return r == ',' || r == ';' || r == ':'
}

// makeAbbreviationMap creates a map of common abbreviations.
func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"ph.d", "m.d", "b.a", "m.a", "b.s",
		"llc", "inc", "ltd", "co", "corp",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"u.s", "u.k", "u.n", "e.u",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool, len(abbrevs)*2)
	for _, abbrev := range abbrevs {
		m[abbrev] = true
		if !strings.Contains(abbrev, ".") {
			m[abbrev+"."] = true
		}
	}
	return m
}
