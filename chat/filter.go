package chat

import (
	"unicode"

	"github.com/mercaline/market-chat-api/models"
)

// defaultProhibitedTerms is the baseline mask list applied to every tier.
// Policy knob: extend per deployment via NewFilter.
var defaultProhibitedTerms = []string{
	"scam",
	"bitcoin wallet",
	"wire transfer",
	"whatsapp me",
	"telegram me",
}

// Filter masks prohibited terms in message content. Filtering degrades
// content, it never blocks a send.
type Filter struct {
	terms     []string
	tierTerms map[string][]string
}

// NewFilter builds a content filter with the baseline term list plus optional
// per-tier additions keyed by tier name.
func NewFilter(extraTerms []string, tierTerms map[string][]string) *Filter {
	terms := make([]string, 0, len(defaultProhibitedTerms)+len(extraTerms))
	terms = append(terms, defaultProhibitedTerms...)
	terms = append(terms, extraTerms...)
	return &Filter{terms: terms, tierTerms: tierTerms}
}

// Apply replaces every prohibited-term match with asterisks of equal rune
// length. Matching is case-insensitive; the sender's tier selects any extra
// terms configured for it.
func (f *Filter) Apply(sender *models.User, content string) string {
	masked := content
	for _, term := range f.terms {
		masked = maskTerm(masked, term)
	}
	if f.tierTerms != nil {
		for _, term := range f.tierTerms[sender.Details.Tier] {
			masked = maskTerm(masked, term)
		}
	}
	return masked
}

// maskTerm folds rune by rune rather than via strings.ToLower: some runes
// lowercase to a different byte length, which would desync byte offsets
// between the folded and original text and slice mid-rune.
func maskTerm(content, term string) string {
	termFolded := foldRunes([]rune(term))
	if len(termFolded) == 0 {
		return content
	}
	runes := []rune(content)
	folded := foldRunes(runes)
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); {
		if matchesAt(folded, termFolded, i) {
			for range termFolded {
				out = append(out, '*')
			}
			i += len(termFolded)
			continue
		}
		out = append(out, runes[i])
		i++
	}
	return string(out)
}

func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func matchesAt(haystack, needle []rune, i int) bool {
	if i+len(needle) > len(haystack) {
		return false
	}
	for j, r := range needle {
		if haystack[i+j] != r {
			return false
		}
	}
	return true
}
