package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mercaline/market-chat-api/api/handlers"
	"github.com/mercaline/market-chat-api/chat"
	mocksdb "github.com/mercaline/market-chat-api/databases/mocks"
	"github.com/mercaline/market-chat-api/models"
)

func newChatsHandler() (handlers.Chats, *mocksdb.UserDatabase, *mocksdb.ChatDatabase, *mocksdb.ChatMemberDatabase, *mocksdb.MessageDatabase) {
	userDB := &mocksdb.UserDatabase{}
	chatDB := &mocksdb.ChatDatabase{}
	memberDB := &mocksdb.ChatMemberDatabase{}
	messageDB := &mocksdb.MessageDatabase{}

	rooms := chat.NewRooms(chatDB, memberDB, userDB, messageDB)
	pipeline := chat.NewPipeline(
		chat.NewRegistry(), chat.NewLimiter(), rooms, chat.NewFilter(nil, nil), chat.NewDetector(),
		userDB, messageDB, chatDB, memberDB, &mocksdb.TxnRunner{}, chat.NewNotifier(),
	)
	h := handlers.Chats{Rooms: rooms, Pipeline: pipeline, MessageDB: messageDB, MemberDB: memberDB}
	return h, userDB, chatDB, memberDB, messageDB
}

func TestChats_MessagesByChatIDHandlerBadID(t *testing.T) {
	h, _, _, _, _ := newChatsHandler()

	req, err := http.NewRequest("GET", "/api/v1/chat/1234/messages?userId=alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"chat_id": "1234"})
	req.Header.Set("Authorization", "Bearer abc123")

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.MessagesByChatIDHandler).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}

	expected := models.ErrorMessageResponse{Response: models.MessageError{Message: "failed to get objectID from Hex", Error: "the provided hex string is not a valid ObjectID"}}
	b, _ := json.Marshal(expected)
	if rr.Body.String() != string(b) {
		t.Errorf("handler returned unexpected body: \ngot: %v \nwant: %v", rr.Body.String(), expected)
	}
}

func TestChats_MessagesByChatIDHandlerNotMember(t *testing.T) {
	h, _, _, memberDB, _ := newChatsHandler()
	chatID := primitive.NewObjectID()

	memberDB.On("FindOne", mock.Anything, mock.Anything).Return(nil, errors.New("mongo: no documents in result"))

	req, _ := http.NewRequest("GET", "/api/v1/chat/"+chatID.Hex()+"/messages?userId=mallory", nil)
	req = mux.SetURLVars(req, map[string]string{"chat_id": chatID.Hex()})

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.MessagesByChatIDHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "not a member of this chat")
}

func TestChats_MessagesByChatIDHandlerReturnsOldestFirst(t *testing.T) {
	h, _, _, memberDB, messageDB := newChatsHandler()
	chatID := primitive.NewObjectID()

	memberDB.On("FindOne", mock.Anything, mock.Anything).
		Return(&models.ChatMember{ChatID: chatID, UserID: "alice"}, nil)
	// the query returns newest first, the handler flips it
	messageDB.On("Find", mock.Anything, bson.M{"chatId": chatID}, mock.Anything).
		Return([]models.Message{
			{ChatID: chatID, Content: "newest"},
			{ChatID: chatID, Content: "oldest"},
		}, nil)
	messageDB.On("CountDocuments", mock.Anything, bson.M{"chatId": chatID}).Return(int64(2), nil)

	req, _ := http.NewRequest("GET", "/api/v1/chat/"+chatID.Hex()+"/messages?userId=alice", nil)
	req = mux.SetURLVars(req, map[string]string{"chat_id": chatID.Hex()})

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.MessagesByChatIDHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data       []models.Message `json:"data"`
		TotalCount int64            `json:"totalCount"`
		TotalPages int              `json:"totalPages"`
	}
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
	assert.Equal(t, "oldest", body.Data[0].Content)
	assert.Equal(t, "newest", body.Data[1].Content)
	assert.Equal(t, int64(2), body.TotalCount)
	assert.Equal(t, 1, body.TotalPages)
}

func TestChats_MessagesByChatIDHandlerPageDoesNotLeakAcrossRequests(t *testing.T) {
	h, _, _, memberDB, messageDB := newChatsHandler()
	chatID := primitive.NewObjectID()

	memberDB.On("FindOne", mock.Anything, mock.Anything).
		Return(&models.ChatMember{ChatID: chatID, UserID: "alice"}, nil)
	messageDB.On("Find", mock.Anything, bson.M{"chatId": chatID}, mock.Anything).
		Return([]models.Message{}, nil)
	messageDB.On("CountDocuments", mock.Anything, bson.M{"chatId": chatID}).Return(int64(0), nil)

	paged, _ := http.NewRequest("GET", "/api/v1/chat/"+chatID.Hex()+"/messages?userId=alice&page=3", nil)
	paged = mux.SetURLVars(paged, map[string]string{"chat_id": chatID.Hex()})
	http.HandlerFunc(h.MessagesByChatIDHandler).ServeHTTP(httptest.NewRecorder(), paged)

	// a request without an explicit page must start from the first page,
	// whatever any earlier request asked for
	unpaged, _ := http.NewRequest("GET", "/api/v1/chat/"+chatID.Hex()+"/messages?userId=alice", nil)
	unpaged = mux.SetURLVars(unpaged, map[string]string{"chat_id": chatID.Hex()})

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.MessagesByChatIDHandler).ServeHTTP(rr, unpaged)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Page int `json:"page"`
	}
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Page)
}

func TestChats_CreateChatHandlerMissingUserID(t *testing.T) {
	h, _, _, _, _ := newChatsHandler()

	payload := bytes.NewBufferString(`{"receiverId": "bob"}`)
	req, _ := http.NewRequest("POST", "/api/v1/chats", payload)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.CreateChatHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "userId is required")
}

func TestChats_CreateChatHandlerDirectDedup(t *testing.T) {
	h, _, chatDB, memberDB, _ := newChatsHandler()

	existing := &models.Chat{ID: primitive.NewObjectID(), PairKey: "alice:bob"}
	chatDB.On("FindOne", mock.Anything, bson.M{"pairKey": "alice:bob", "isGroup": false, "isDisputeChat": false}).
		Return(existing, nil)

	payload := bytes.NewBufferString(`{"userId": "alice", "receiverId": "bob"}`)
	req, _ := http.NewRequest("POST", "/api/v1/chats", payload)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.CreateChatHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var body models.ChatCreatedPayload
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.IsExisting)
	assert.Equal(t, existing.ID, body.Chat.ID)
	memberDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestChats_CreateChatHandlerGroupNeedsMembers(t *testing.T) {
	h, _, _, _, _ := newChatsHandler()

	payload := bytes.NewBufferString(`{"userId": "alice", "isGroup": true, "name": "empty group"}`)
	req, _ := http.NewRequest("POST", "/api/v1/chats", payload)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.CreateChatHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "at least one other member")
}

func TestChats_ChatsByUserIDHandlerEmpty(t *testing.T) {
	h, _, _, memberDB, _ := newChatsHandler()

	memberDB.On("Find", mock.Anything, bson.M{"userId": "alice", "exited": false}).
		Return([]models.ChatMember{}, nil)

	req, _ := http.NewRequest("GET", "/api/v1/user/alice/chats", nil)
	req = mux.SetURLVars(req, map[string]string{"user_id": "alice"})

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.ChatsByUserIDHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body models.ChatsListPayload
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Empty(t, body.Chats)
}

func TestChats_MarkChatReadHandler(t *testing.T) {
	h, _, _, memberDB, messageDB := newChatsHandler()
	chatID := primitive.NewObjectID()

	messageDB.On("UpdateMany", mock.Anything,
		bson.M{"chatId": chatID, "receiverId": "alice", "isRead": false}, mock.Anything).
		Return(&mongo.UpdateResult{ModifiedCount: 3}, nil)
	memberDB.On("UpdateOne", mock.Anything, bson.M{"chatId": chatID, "userId": "alice"}, mock.Anything).
		Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	payload := bytes.NewBufferString(`{"userId": "alice"}`)
	req, _ := http.NewRequest("POST", "/api/v1/chat/"+chatID.Hex()+"/read", payload)
	req = mux.SetURLVars(req, map[string]string{"chat_id": chatID.Hex()})

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.MarkChatReadHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["modified"])
}

func TestChats_SendMessageHandlerInsufficientPoints(t *testing.T) {
	h, userDB, chatDB, memberDB, _ := newChatsHandler()

	broke := &models.User{
		ID: "alice",
		Details: models.UserDetails{
			Role: models.RoleConsumer, Tier: models.TierBasic,
			Points: 0, AllowsDirectMessages: true,
		},
	}
	receiver := &models.User{
		ID:      "bob",
		Details: models.UserDetails{Role: models.RoleConsumer, AllowsDirectMessages: true},
	}
	room := &models.Chat{ID: primitive.NewObjectID(), PairKey: "alice:bob"}

	userDB.On("FindOne", mock.Anything, bson.M{"_id": "alice"}).Return(broke, nil)
	userDB.On("FindOne", mock.Anything, bson.M{"_id": "bob"}).Return(receiver, nil)
	chatDB.On("FindOne", mock.Anything, mock.Anything).Return(room, nil)
	memberDB.On("FindOne", mock.Anything, mock.Anything).
		Return(&models.ChatMember{ChatID: room.ID, UserID: "alice", MaxMessages: models.UnlimitedMessages}, nil)

	payload := bytes.NewBufferString(`{"userId": "alice", "receiverId": "bob", "content": "hello", "messageType": "TEXT", "tempId": "tmp-9"}`)
	req, _ := http.NewRequest("POST", "/api/v1/messages", payload)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.SendMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Contains(t, rr.Body.String(), "not enough points")
}
