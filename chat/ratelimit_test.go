package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mercaline/market-chat-api/models"
)

func TestLimiterRejectsAtCeiling(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 10; i++ {
		d := l.Allow("user-1", models.EventSendMessage, 10)
		assert.True(t, d.Allowed, "call %d should fit", i+1)
		assert.Equal(t, 10-(i+1), d.Remaining)
	}

	d := l.Allow("user-1", models.EventSendMessage, 10)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.False(t, d.ResetAt.IsZero())
}

func TestLimiterWindowSlides(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base

	l := NewLimiter()
	l.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("user-1", models.EventSendMessage, 5).Allowed)
	}
	assert.False(t, l.Allow("user-1", models.EventSendMessage, 5).Allowed)

	// one second past the window the oldest entries have expired
	current = base.Add(RateWindow + time.Second)
	assert.True(t, l.Allow("user-1", models.EventSendMessage, 5).Allowed)
}

func TestLimiterKeysByIdentityAndEvent(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("user-1", models.EventSendMessage, 3).Allowed)
	}
	assert.False(t, l.Allow("user-1", models.EventSendMessage, 3).Allowed)

	// other events and other identities keep their own windows
	assert.True(t, l.Allow("user-1", models.EventTypingStart, 3).Allowed)
	assert.True(t, l.Allow("user-2", models.EventSendMessage, 3).Allowed)
}

func TestCeiling(t *testing.T) {
	tests := []struct {
		name string
		user *models.User
		want int
	}{
		{"professional", &models.User{Details: models.UserDetails{Role: models.RoleProfessional}}, 25},
		{"admin", &models.User{Details: models.UserDetails{Role: models.RoleAdmin}}, 25},
		{"consumer vip", consumer(models.TierVIP, 0), 30},
		{"consumer premium", consumer(models.TierPremium, 0), 20},
		{"consumer basic", consumer(models.TierBasic, 0), 5},
		{"consumer no tier", consumer("", 0), 5},
		{"unknown role", &models.User{Details: models.UserDetails{Role: "moderator"}}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Ceiling(tt.user))
		})
	}
}
