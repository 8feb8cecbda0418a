package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Message content types
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeAudio = "AUDIO"
	MessageTypeVideo = "VIDEO"
	MessageTypeFile  = "FILE"
)

// Message holds the structure for the messages collection in mongo. Messages
// are append-only within a chat and immutable once persisted except for
// isRead/readAt.
type Message struct {
	ID               primitive.ObjectID `json:"_id" bson:"_id"`
	ChatID           primitive.ObjectID `json:"chatId" bson:"chatId"`
	SenderID         string             `json:"senderId" bson:"senderId"`
	ReceiverID       string             `json:"receiverId,omitempty" bson:"receiverId,omitempty"`
	Content          string             `json:"content" bson:"content"`
	Type             string             `json:"type" bson:"type"`
	FileURL          string             `json:"fileUrl,omitempty" bson:"fileUrl,omitempty"`
	FileName         string             `json:"fileName,omitempty" bson:"fileName,omitempty"`
	CostPoints       int64              `json:"costPoints" bson:"costPoints"`
	IsPremiumMessage bool               `json:"isPremiumMessage" bson:"isPremiumMessage"`
	IsRead           bool               `json:"isRead" bson:"isRead"`
	ReadAt           primitive.DateTime `json:"readAt,omitempty" bson:"readAt,omitempty"`
	CreatedAt        primitive.DateTime `json:"createdAt" bson:"createdAt"`
}

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeVideo, MessageTypeFile:
		return true
	}
	return false
}
