package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/api"
	"github.com/mercaline/market-chat-api/chat"
	"github.com/mercaline/market-chat-api/config"
	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// Chats exported for testing purposes
type Chats struct {
	Rooms     *chat.Rooms
	Pipeline  *chat.Pipeline
	MessageDB databases.MessageDatabase
	MemberDB  databases.ChatMemberDatabase
}

// ChatsByUserIDHandler returns the user's chats ordered by last activity,
// annotated with unread counts and last-message previews
func (h Chats) ChatsByUserIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	chats, err := h.Rooms.ListChats(ctx, userID)
	if err != nil {
		config.ErrorStatus("failed to get chats", http.StatusNotFound, w, err)
		return
	}

	b, err := json.Marshal(models.ChatsListPayload{Chats: chats})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// CreateChatHandler creates a direct or group chat. Direct chats dedup on the
// member pair, so re-creating one returns the existing chat.
func (h Chats) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		models.CreateChatPayload
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if body.UserID == "" {
		config.ErrorStatus("userId is required", http.StatusBadRequest, w, fmt.Errorf("empty userId"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	var payload models.ChatCreatedPayload
	if body.IsGroup {
		room, err := h.Rooms.CreateGroup(ctx, body.UserID, body.MemberIDs, body.Name)
		if err != nil {
			config.ErrorStatus("failed to create group chat", chatErrorStatus(err), w, err)
			return
		}
		payload = models.ChatCreatedPayload{Chat: *room}
	} else {
		room, existed, err := h.Rooms.FindOrCreateDirect(ctx, body.UserID, body.ReceiverID)
		if err != nil {
			config.ErrorStatus("failed to create direct chat", chatErrorStatus(err), w, err)
			return
		}
		payload = models.ChatCreatedPayload{Chat: *room, IsExisting: existed}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// MessagesByChatIDHandler returns one page of chat history, oldest first
func (h Chats) MessagesByChatIDHandler(w http.ResponseWriter, r *http.Request) {
	chatIDHex := mux.Vars(r)["chat_id"]
	userID := r.URL.Query().Get("userId")

	chatID, err := primitive.ObjectIDFromHex(chatIDHex)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || Limit <= 0 {
		Limit = 50
	}
	page := getPage(0, r)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := h.Rooms.Member(ctx, chatID, userID); err != nil {
		config.ErrorStatus("not a member of this chat", http.StatusForbidden, w, err)
		return
	}

	opts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetSkip(int64(page * Limit)).
		SetLimit(int64(Limit))
	messages, err := h.MessageDB.Find(ctx, bson.M{"chatId": chatID}, opts)
	if err != nil {
		config.ErrorStatus("failed to get messages", http.StatusNotFound, w, err)
		return
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if len(messages) == 0 {
		messages = []models.Message{}
	}

	totalCount, err := h.MessageDB.CountDocuments(ctx, bson.M{"chatId": chatID})
	if err != nil {
		totalCount = int64(len(messages))
	}
	totalPages := int(math.Ceil(float64(totalCount) / float64(Limit)))

	response := map[string]interface{}{
		"data":       messages,
		"page":       page,
		"limit":      Limit,
		"totalCount": totalCount,
		"totalPages": totalPages,
	}

	b, err := json.Marshal(response)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// MarkChatReadHandler marks every unread message addressed to the user in the
// chat as read. Calling it twice is a no-op.
func (h Chats) MarkChatReadHandler(w http.ResponseWriter, r *http.Request) {
	chatIDHex := mux.Vars(r)["chat_id"]

	chatID, err := primitive.ObjectIDFromHex(chatIDHex)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		config.ErrorStatus("userId is required", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := primitive.NewDateTimeFromTime(time.Now())
	res, err := h.MessageDB.UpdateMany(ctx,
		bson.M{"chatId": chatID, "receiverId": body.UserID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": now}})
	if err != nil {
		config.ErrorStatus("failed to mark chat read", http.StatusInternalServerError, w, err)
		return
	}

	if _, err := h.MemberDB.UpdateOne(ctx,
		bson.M{"chatId": chatID, "userId": body.UserID},
		bson.M{"$set": bson.M{"lastRead": now}}); err != nil {
		zap.S().Warnw("failed to stamp lastRead", "chatId", chatIDHex, "userId", body.UserID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Chat marked as read",
		"modified": res.ModifiedCount,
	})
}

// SendMessageHandler is the REST mirror of the send_message socket event. It
// runs the same pipeline; the ack event still goes out over any live sockets.
func (h Chats) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		models.SendMessagePayload
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	res, err := h.Pipeline.Send(ctx, chat.SendRequest{
		SenderID:    body.UserID,
		ChatID:      body.ChatID,
		ReceiverID:  body.ReceiverID,
		Content:     body.Content,
		MessageType: body.MessageType,
		FileURL:     body.FileURL,
		FileName:    body.FileName,
		Premium:     body.IsPremiumMessage,
		TempID:      body.TempID,
	})
	if err != nil {
		ce := chat.AsChatError(err)
		config.ErrorStatus(ce.Message, chatErrorStatus(err), w, err)
		return
	}

	b, err := json.Marshal(models.MessageSentPayload{
		ID:         res.Message.ID.Hex(),
		ChatID:     res.Message.ChatID.Hex(),
		TempID:     body.TempID,
		PointsUsed: res.CostPoints,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// chatErrorStatus maps chat error codes onto http statuses for the REST
// mirrors of the socket operations.
func chatErrorStatus(err error) int {
	ce := chat.AsChatError(err)
	switch ce.Code {
	case chat.CodeValidationFailed:
		return http.StatusBadRequest
	case chat.CodePermissionDenied:
		return http.StatusForbidden
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeRateLimited:
		return http.StatusTooManyRequests
	case chat.CodeDailyLimitReached, chat.CodeQuotaExceeded, chat.CodeInsufficientPoint:
		return http.StatusPaymentRequired
	case chat.CodeSpamDetected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func getPage(Page int, r *http.Request) int {
	if r.URL.Query().Get("page") == "" {
		zap.S().Warnf("page not set, using default of %v", Page)
	} else {
		var err error
		Page, err = strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			zap.S().Errorf(fmt.Sprintf("error parsing page number: %v", err))
		}
		if Page < 0 {
			zap.S().Warnf(fmt.Sprintf("cannot process page number less than 1. Got: %v", Page))
			return 0
		}
	}
	return Page
}
