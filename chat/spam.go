package chat

import (
	"strings"
	"unicode"

	"github.com/mercaline/market-chat-api/models"
)

// Spam scoring weights and thresholds. Policy knobs preserved from the tuned
// production values; adjust with care, the tests pin the observed behavior.
const (
	spamThreshold = 0.7

	duplicateWeight = 0.8
	velocityWeight  = 0.6
	phraseWeight    = 0.7
	densityWeight   = 0.4
	lengthWeight    = 0.3

	duplicateMin     = 3
	velocityMin      = 10
	phraseMatchMin   = 2
	densityThreshold = 0.5
	lengthMax        = 2000
)

// knownSpamPhrases are the pattern fragments counted toward the phrase score.
var knownSpamPhrases = []string{
	"free money",
	"click here",
	"limited offer",
	"act now",
	"guaranteed income",
	"100% free",
	"winner",
	"congratulations you",
	"crypto investment",
	"double your",
}

// SpamScore is the confidence breakdown for one candidate message.
type SpamScore struct {
	Confidence float64
	Duplicates int
	Velocity   int
	Phrases    int
}

// IsSpam reports whether the confidence crossed the rejection threshold.
func (s SpamScore) IsSpam() bool {
	return s.Confidence >= spamThreshold
}

// Detector scores candidate messages against the sender's recent history.
// It is a pure function over the message text and the recent window the
// pipeline queried; it holds no state of its own.
type Detector struct{}

// NewDetector builds a spam detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Score computes the spam confidence for content given the sender's messages
// from the last five minutes.
func (d *Detector) Score(content string, recent []models.Message) SpamScore {
	score := SpamScore{Velocity: len(recent)}

	for _, m := range recent {
		if m.Content == content {
			score.Duplicates++
		}
	}
	if score.Duplicates >= duplicateMin {
		score.Confidence += duplicateWeight
	}

	if score.Velocity >= velocityMin {
		score.Confidence += velocityWeight
	}

	lower := strings.ToLower(content)
	for _, phrase := range knownSpamPhrases {
		if strings.Contains(lower, phrase) {
			score.Phrases++
		}
	}
	if score.Phrases >= phraseMatchMin {
		score.Confidence += phraseWeight
	}

	if specialDensity(content) > densityThreshold {
		score.Confidence += densityWeight
	}

	if len([]rune(content)) > lengthMax {
		score.Confidence += lengthWeight
	}

	return score
}

// specialDensity is the fraction of non-letter, non-digit, non-space runes.
func specialDensity(content string) float64 {
	runes := []rune(content)
	if len(runes) == 0 {
		return 0
	}
	special := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		special++
	}
	return float64(special) / float64(len(runes))
}
