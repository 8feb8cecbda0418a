package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Dispute chat lifecycle. RESOLVED and CLOSED both stop new messages; only
// CLOSED forbids reopening.
const (
	DisputeActive   = "ACTIVE"
	DisputeResolved = "RESOLVED"
	DisputeClosed   = "CLOSED"
)

// Chat member roles
const (
	MemberRoleAdmin  = "ADMIN"
	MemberRoleMember = "MEMBER"
)

// UnlimitedMessages is the maxMessages sentinel for ordinary chat members.
const UnlimitedMessages = -1

// Chat holds the structure for the chats collection in mongo. Chats are never
// hard-deleted; the scheduler archives them after inactivity.
type Chat struct {
	ID            primitive.ObjectID `json:"_id" bson:"_id"`
	IsGroup       bool               `json:"isGroup" bson:"isGroup"`
	IsDisputeChat bool               `json:"isDisputeChat" bson:"isDisputeChat"`
	DisputeStatus string             `json:"disputeStatus,omitempty" bson:"disputeStatus,omitempty"`
	Name          string             `json:"name,omitempty" bson:"name,omitempty"`
	// PairKey is the order-independent "<loID>:<hiID>" key used to dedup
	// direct chats; empty for group and dispute chats.
	PairKey      string             `json:"pairKey,omitempty" bson:"pairKey,omitempty"`
	Archived     bool               `json:"archived" bson:"archived"`
	LastActivity primitive.DateTime `json:"lastActivity" bson:"lastActivity"`
	CreatedAt    primitive.DateTime `json:"createdAt" bson:"createdAt"`
	ResolvedAt   primitive.DateTime `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ClosedAt     primitive.DateTime `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
}

// ChatMember holds the structure for the chatmembers collection in mongo.
// (UserID, ChatID) is unique. Members are never removed, only soft-exited.
type ChatMember struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id"`
	ChatID       primitive.ObjectID `json:"chatId" bson:"chatId"`
	UserID       string             `json:"userId" bson:"userId"`
	Role         string             `json:"role" bson:"role"`
	MessageCount int                `json:"messageCount" bson:"messageCount"`
	MaxMessages  int                `json:"maxMessages" bson:"maxMessages"`
	LastRead     primitive.DateTime `json:"lastRead" bson:"lastRead"`
	Exited       bool               `json:"exited" bson:"exited"`
	JoinedAt     primitive.DateTime `json:"joinedAt" bson:"joinedAt"`
}

// QuotaExhausted reports whether this member has used up its dispute-chat
// message allowance. Admin members and ordinary chat members are never capped.
func (m *ChatMember) QuotaExhausted() bool {
	if m.MaxMessages == UnlimitedMessages || m.Role == MemberRoleAdmin {
		return false
	}
	return m.MessageCount >= m.MaxMessages
}

// ChatSummary is the annotated chat entry returned by chat listings.
type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	DisplayName string   `json:"displayName"`
	Avatar      string   `json:"avatar,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}
