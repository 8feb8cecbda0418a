package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mercaline/market-chat-api/models"
)

func TestFilterMasksTermsCaseInsensitively(t *testing.T) {
	f := NewFilter(nil, nil)
	sender := consumer(models.TierBasic, 10)

	got := f.Apply(sender, "this is a SCAM, trust me")
	assert.Equal(t, "this is a ****, trust me", got)
}

func TestFilterMaskLengthMatchesTerm(t *testing.T) {
	f := NewFilter([]string{"sketchy"}, nil)
	sender := consumer(models.TierBasic, 10)

	got := f.Apply(sender, "a Sketchy offer")
	assert.Equal(t, "a ******* offer", got)
}

func TestFilterAppliesTierSpecificTerms(t *testing.T) {
	f := NewFilter(nil, map[string][]string{
		models.TierBasic: {"offsite"},
	})

	basic := consumer(models.TierBasic, 10)
	premium := consumer(models.TierPremium, 10)

	assert.Equal(t, "pay ******* please", f.Apply(basic, "pay offsite please"))
	assert.Equal(t, "pay offsite please", f.Apply(premium, "pay offsite please"))
}

func TestFilterLeavesCleanContentAlone(t *testing.T) {
	f := NewFilter(nil, nil)
	sender := consumer(models.TierVIP, 10)

	content := "hello, is the apartment still available?"
	assert.Equal(t, content, f.Apply(sender, content))
}

func TestFilterMasksAfterWideLowercasingRunes(t *testing.T) {
	f := NewFilter(nil, nil)
	sender := consumer(models.TierBasic, 10)

	// 'İ' lowercases to two runes under full case mapping; the mask must not
	// shift or slice the runes that follow it
	got := f.Apply(sender, "İstanbul listing is a scam alert")
	assert.Equal(t, "İstanbul listing is a **** alert", got)
}

func TestFilterMasksRepeatedOccurrences(t *testing.T) {
	f := NewFilter(nil, nil)
	sender := consumer(models.TierBasic, 10)

	got := f.Apply(sender, "scam scam scam")
	assert.Equal(t, "**** **** ****", got)
}
