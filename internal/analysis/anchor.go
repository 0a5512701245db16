package analysis

import "strings"

// Discourse markers stripped from the front of a statement before anchor
// extraction. Longest first so "on the other hand" wins over nothing.
var discourseMarkers = []string{
	"on the other hand", "in fact", "meanwhile", "actually", "although",
	"however", "instead", "rather", "though", "still", "but", "yet",
}

var copulas = map[string]bool{
	"is": true, "are": true, "was": true, "were": true,
	"be": true, "being": true, "been": true,
}

var anchorStopWords = map[string]bool{
	"i": true, "the": true, "a": true, "an": true, "to": true, "for": true,
	"of": true, "in": true, "on": true, "at": true, "by": true, "with": true,
}

var preferenceVerbs = map[string]bool{
	"prefer": true, "like": true, "love": true, "hate": true,
	"avoid": true, "use": true, "need": true, "want": true,
}

var reportingVerbs = map[string]bool{
	"think": true, "believe": true, "seems": true, "appears": true,
	"actually": true, "however": true,
}

const punctCutset = ".,!?;:'\""

// ExtractAnchor pulls a short topic key out of a statement: the subject
// before a copula, failing that the object of a preference verb, failing
// that the first content token. Returns "" when nothing usable is found.
// The anchor trades recall for precision; it is the primary key that gates
// contradiction comparisons.
func ExtractAnchor(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".,!?;:")
	if t == "" {
		return ""
	}

	for _, marker := range discourseMarkers {
		if strings.HasPrefix(t, marker+" ") || strings.HasPrefix(t, marker+",") {
			t = strings.TrimSpace(t[len(marker):])
			t = strings.TrimSpace(strings.TrimLeft(t, ","))
			break
		}
	}

	tokens := strings.Fields(t)
	if len(tokens) == 0 {
		return ""
	}

	// Subject before a copula, taking two tokens when the earlier one is
	// not a stop word ("unit testing is essential" → "unit testing").
	for i, tok := range tokens {
		if !copulas[tok] || i == 0 {
			continue
		}
		var anchor string
		if i >= 2 && !anchorStopWords[tokens[i-2]] {
			anchor = tokens[i-2] + " " + tokens[i-1]
		} else {
			anchor = tokens[i-1]
		}
		anchor = strings.Trim(anchor, punctCutset)
		if !anchorStopWords[anchor] && len(anchor) > 2 {
			return anchor
		}
	}

	// Object of a preference verb ("I prefer TypeScript" → "typescript").
	for i, tok := range tokens {
		if preferenceVerbs[tok] && i < len(tokens)-1 {
			anchor := strings.Trim(tokens[i+1], punctCutset)
			if !anchorStopWords[anchor] && len(anchor) > 2 {
				return anchor
			}
		}
	}

	// First content token that is not a stop word or a reporting verb.
	for _, tok := range tokens {
		cleaned := strings.Trim(tok, punctCutset)
		if !anchorStopWords[cleaned] && len(cleaned) > 2 && !reportingVerbs[cleaned] {
			return cleaned
		}
	}

	return ""
}
