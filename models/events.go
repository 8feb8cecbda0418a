package models

import "encoding/json"

// Inbound socket event names. The router only dispatches names in this set.
const (
	EventSendMessage    = "send_message"
	EventMarkRead       = "mark_read"
	EventGetChatHistory = "get_chat_history"
	EventCreateChat     = "create_chat"
	EventGetChats       = "get_chats"
	EventSearchUsers    = "search_users"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventGetOnlineUsers = "get_online_users"
)

// Outbound socket event names
const (
	EventMessageSent       = "message_sent"
	EventNewMessage        = "new_message"
	EventMessagesRead      = "messages_read"
	EventChatHistory       = "chat_history"
	EventChatCreated       = "chat_created"
	EventChatsList         = "chats_list"
	EventUsersSearchResult = "users_search_results"
	EventUserTyping        = "user_typing"
	EventOnlineUsers       = "online_users"
	EventDisputeStatus     = "dispute_status_changed"
	EventError             = "error"
)

// SocketEvent is the wire envelope for every frame in both directions.
type SocketEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewSocketEvent marshals payload into an envelope. Marshal errors are
// programmer errors (all payload types here are marshalable) and surface as an
// empty data field.
func NewSocketEvent(event string, payload interface{}) SocketEvent {
	b, err := json.Marshal(payload)
	if err != nil {
		return SocketEvent{Event: event}
	}
	return SocketEvent{Event: event, Data: b}
}

// SendMessagePayload is the client request to send a message. Exactly one of
// ChatID / ReceiverID must be set.
type SendMessagePayload struct {
	ChatID           string `json:"chatId,omitempty"`
	ReceiverID       string `json:"receiverId,omitempty"`
	Content          string `json:"content"`
	MessageType      string `json:"messageType"`
	FileURL          string `json:"fileUrl,omitempty"`
	FileName         string `json:"fileName,omitempty"`
	IsPremiumMessage bool   `json:"isPremiumMessage,omitempty"`
	TempID           string `json:"tempId"`
}

// MessageSentPayload is the ack echoed to the sender's originating connection.
type MessageSentPayload struct {
	ID         string `json:"id"`
	ChatID     string `json:"chatId"`
	TempID     string `json:"tempId"`
	PointsUsed int64  `json:"pointsUsed"`
}

// ErrorPayload is the typed failure surfaced to the client.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  string `json:"status,omitempty"`
}

// MarkReadPayload marks a single message or a whole chat as read.
type MarkReadPayload struct {
	MessageID string `json:"messageId,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
}

// MessagesReadPayload is broadcast to the other room sockets after a read.
type MessagesReadPayload struct {
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId,omitempty"`
	ReadAt    int64  `json:"readAt"`
}

// ChatHistoryPayload requests a page of chat history.
type ChatHistoryPayload struct {
	ChatID string `json:"chatId"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

// ChatHistoryResponse returns one page of messages in ascending order.
type ChatHistoryResponse struct {
	ChatID     string     `json:"chatId"`
	Chat       Chat       `json:"chat"`
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// Pagination is the standard page metadata block.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
}

// CreateChatPayload creates a direct or group chat.
type CreateChatPayload struct {
	ReceiverID string   `json:"receiverId,omitempty"`
	IsGroup    bool     `json:"isGroup"`
	Name       string   `json:"name,omitempty"`
	MemberIDs  []string `json:"memberIds,omitempty"`
}

// ChatCreatedPayload is returned for create_chat.
type ChatCreatedPayload struct {
	Chat       Chat `json:"chat"`
	IsExisting bool `json:"isExisting"`
}

// ChatsListPayload is returned for get_chats.
type ChatsListPayload struct {
	Chats []ChatSummary `json:"chats"`
}

// SearchUsersPayload queries users by name or username.
type SearchUsersPayload struct {
	Query     string   `json:"query"`
	UserTypes []string `json:"userTypes,omitempty"`
	Limit     int      `json:"limit"`
}

// UserSearchResult is the trimmed public view of a matched user.
type UserSearchResult struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Role           string `json:"role"`
	Online         bool   `json:"online"`
}

// UsersSearchResultsPayload is returned for search_users.
type UsersSearchResultsPayload struct {
	Query string             `json:"query"`
	Users []UserSearchResult `json:"users"`
	Total int64              `json:"total"`
}

// TypingPayload names the chat a typing notification applies to.
type TypingPayload struct {
	ChatID string `json:"chatId"`
}

// UserTypingPayload is relayed to the other room members.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// DisputeStatusPayload notifies dispute members of a status transition.
type DisputeStatusPayload struct {
	ChatID    string `json:"chatId"`
	Status    string `json:"status"`
	ChangedBy string `json:"changedBy"`
}
