package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Account roles. Consumers are the metered accounts; everyone else sends for
// free but is still rate limited.
const (
	RoleConsumer     = "consumer"
	RoleProfessional = "professional"
	RoleAgency       = "agency"
	RoleAdmin        = "admin"
)

// Subscription tiers for consumer-role accounts
const (
	TierBasic   = "basic"
	TierPremium = "premium"
	TierVIP     = "vip"
)

// User holds the structure for the user collection in mongo
type User struct {
	ID      string      `json:"_id" bson:"_id"`
	Details UserDetails `json:"user" bson:"user"`
	Version int32       `json:"__v" bson:"__v"`
}

// UserDetails holds the inner user structure as defined in the user collection
type UserDetails struct {
	Name                 string             `json:"name" bson:"name"`
	Username             string             `json:"username" bson:"username"`
	Email                string             `json:"email" bson:"email"`
	Password             string             `json:"password" bson:"password"`
	ProfilePicture       string             `json:"profilePicture" bson:"profilePicture"`
	Role                 string             `json:"role" bson:"role"`
	Tier                 string             `json:"tier" bson:"tier"`
	Points               int64              `json:"points" bson:"points"`
	PointsSpent          int64              `json:"pointsSpent" bson:"pointsSpent"`
	DailyMessagesUsed    int                `json:"dailyMessagesUsed" bson:"dailyMessagesUsed"`
	DailyCounterDay      string             `json:"dailyCounterDay" bson:"dailyCounterDay"`
	AllowsDirectMessages bool               `json:"allowsDirectMessages" bson:"allowsDirectMessages"`
	BlockedUsers         []string           `json:"blockedUsers" bson:"blockedUsers"`
	Capabilities         Capabilities       `json:"capabilities" bson:"capabilities"`
	PushTokens           []string           `json:"pushTokens" bson:"pushTokens"`
	LastActive           primitive.DateTime `json:"lastActive" bson:"lastActive"`
	CreatedAt            interface{}        `json:"createdAt" bson:"createdAt"`
	UpdatedAt            interface{}        `json:"updatedAt" bson:"updatedAt"`
}

// Capabilities are the per-account message-type capability flags handed to the
// chat core at handshake time. They are derived from tier server-side but
// stored denormalized so a send never needs the tier table.
type Capabilities struct {
	CanSendImage    bool `json:"canSendImage" bson:"canSendImage"`
	CanSendVoice    bool `json:"canSendVoice" bson:"canSendVoice"`
	CanSendVideo    bool `json:"canSendVideo" bson:"canSendVideo"`
	CanSendFile     bool `json:"canSendFile" bson:"canSendFile"`
	PremiumMessages bool `json:"premiumMessages" bson:"premiumMessages"`
}

// Metered reports whether the account pays points per message and is bound by
// the daily message quota.
func (u *User) Metered() bool {
	return u.Details.Role == RoleConsumer
}

// DailyLimit returns the per-day message allowance for metered accounts, or -1
// for unmetered roles.
func (u *User) DailyLimit() int {
	if !u.Metered() {
		return -1
	}
	switch u.Details.Tier {
	case TierVIP:
		return 500
	case TierPremium:
		return 200
	default:
		return 50
	}
}

// HasBlocked reports whether other appears in this user's block list.
func (u *User) HasBlocked(other string) bool {
	for _, id := range u.Details.BlockedUsers {
		if id == other {
			return true
		}
	}
	return false
}
