package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
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

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 256

	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	defaultSearchLimit  = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the marketplace web app on another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Socket owns the websocket endpoint: handshake auth, connection lifecycle
// and the inbound event router.
type Socket struct {
	Config    config.Config
	Registry  *chat.Registry
	Pipeline  *chat.Pipeline
	Rooms     *chat.Rooms
	Disputes  *chat.Disputes
	UserDB    databases.UserDatabase
	MessageDB databases.MessageDatabase
	MemberDB  databases.ChatMemberDatabase
}

// socketClient is one live websocket connection. Writes go through a buffered
// channel drained by the write pump; Enqueue drops instead of blocking so one
// stalled client cannot hold up room fan-out.
type socketClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan models.SocketEvent
	done   chan struct{}
	once   sync.Once
}

func (c *socketClient) ID() string     { return c.id }
func (c *socketClient) UserID() string { return c.userID }

func (c *socketClient) Enqueue(event models.SocketEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *socketClient) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// ServeWS authenticates the handshake token, upgrades the connection and runs
// the read loop until the client goes away. Every identity may hold several
// connections at once.
func (s *Socket) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		config.ErrorStatus("missing socket token", http.StatusUnauthorized, w, nil)
		return
	}
	userID, err := api.ParseSocketToken(s.Config.JWTSecret, token)
	if err != nil {
		config.ErrorStatus("invalid socket token", http.StatusUnauthorized, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := s.UserDB.FindOne(ctx, bson.M{"_id": userID}); err != nil {
		config.ErrorStatus("unknown user", http.StatusUnauthorized, w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed", "userId", userID, "error", err)
		return
	}

	client := &socketClient{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		send:   make(chan models.SocketEvent, sendBufferSize),
		done:   make(chan struct{}),
	}
	s.Registry.Register(client)
	zap.S().Infow("socket connected", "connId", client.id, "userId", userID)

	go s.writePump(client)
	s.readPump(client)
}

func (s *Socket) readPump(c *socketClient) {
	defer func() {
		s.Registry.Unregister(c.id)
		c.Close()
		zap.S().Infow("socket disconnected", "connId", c.id, "userId", c.userID)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Warnw("socket read error", "connId", c.id, "error", err)
			}
			return
		}

		var event models.SocketEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed event frame"))
			continue
		}
		s.dispatch(c, event)
	}
}

func (s *Socket) writePump(c *socketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// dispatch routes one inbound event. Events run synchronously on the read
// loop, so a connection's own events are handled in arrival order.
func (s *Socket) dispatch(c *socketClient, event models.SocketEvent) {
	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	switch event.Event {
	case models.EventSendMessage:
		s.handleSendMessage(ctx, c, event.Data)
	case models.EventMarkRead:
		s.handleMarkRead(ctx, c, event.Data)
	case models.EventGetChatHistory:
		s.handleChatHistory(ctx, c, event.Data)
	case models.EventCreateChat:
		s.handleCreateChat(ctx, c, event.Data)
	case models.EventGetChats:
		s.handleGetChats(ctx, c)
	case models.EventSearchUsers:
		s.handleSearchUsers(ctx, c, event.Data)
	case models.EventTypingStart:
		s.handleTyping(ctx, c, event.Data, true)
	case models.EventTypingStop:
		s.handleTyping(ctx, c, event.Data, false)
	case models.EventGetOnlineUsers:
		s.handleGetOnlineUsers(c)
	default:
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "unknown event: "+event.Event))
	}
}

func (s *Socket) sendError(c *socketClient, cerr *chat.Error) {
	event := models.NewSocketEvent(models.EventError, models.ErrorPayload{
		Message: cerr.Message,
		Code:    cerr.Code,
		Status:  cerr.DisputeStatus,
	})
	if !c.Enqueue(event) {
		zap.S().Warnw("dropped error event for slow connection", "connId", c.id)
	}
}

func (s *Socket) handleSendMessage(ctx context.Context, c *socketClient, data json.RawMessage) {
	var payload models.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed send_message payload"))
		return
	}

	_, err := s.Pipeline.Send(ctx, chat.SendRequest{
		SenderID:     c.userID,
		ChatID:       payload.ChatID,
		ReceiverID:   payload.ReceiverID,
		Content:      payload.Content,
		MessageType:  payload.MessageType,
		FileURL:      payload.FileURL,
		FileName:     payload.FileName,
		Premium:      payload.IsPremiumMessage,
		TempID:       payload.TempID,
		OriginConnID: c.id,
	})
	if err != nil {
		s.sendError(c, chat.AsChatError(err))
	}
}

// handleMarkRead flags a message, or every unread message in a chat, as read.
// Re-reading is a no-op; the other room sockets get one messages_read event.
func (s *Socket) handleMarkRead(ctx context.Context, c *socketClient, data json.RawMessage) {
	var payload models.MarkReadPayload
	if err := json.Unmarshal(data, &payload); err != nil || (payload.MessageID == "" && payload.ChatID == "") {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "mark_read needs a messageId or chatId"))
		return
	}

	now := time.Now()
	readAt := primitive.NewDateTimeFromTime(now)
	var chatID primitive.ObjectID

	if payload.MessageID != "" {
		msgID, err := primitive.ObjectIDFromHex(payload.MessageID)
		if err != nil {
			s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed message id"))
			return
		}
		msg, err := s.MessageDB.FindOne(ctx, bson.M{"_id": msgID, "receiverId": c.userID})
		if err != nil {
			s.sendError(c, chat.NewError(chat.CodeNotFound, "message not found"))
			return
		}
		chatID = msg.ChatID
		if !msg.IsRead {
			if _, err := s.MessageDB.UpdateOne(ctx, bson.M{"_id": msgID, "isRead": false},
				bson.M{"$set": bson.M{"isRead": true, "readAt": readAt}}); err != nil {
				s.sendError(c, chat.NewError(chat.CodePersistenceFailed, "failed to mark message read"))
				return
			}
		}
	} else {
		id, err := primitive.ObjectIDFromHex(payload.ChatID)
		if err != nil {
			s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed chat id"))
			return
		}
		chatID = id
		if _, err := s.MessageDB.UpdateMany(ctx,
			bson.M{"chatId": chatID, "receiverId": c.userID, "isRead": false},
			bson.M{"$set": bson.M{"isRead": true, "readAt": readAt}}); err != nil {
			s.sendError(c, chat.NewError(chat.CodePersistenceFailed, "failed to mark chat read"))
			return
		}
	}

	if _, err := s.MemberDB.UpdateOne(ctx,
		bson.M{"chatId": chatID, "userId": c.userID},
		bson.M{"$set": bson.M{"lastRead": readAt}}); err != nil {
		zap.S().Warnw("failed to stamp lastRead", "chatId", chatID.Hex(), "userId", c.userID, "error", err)
	}

	s.relayToOthers(ctx, c, chatID, models.NewSocketEvent(models.EventMessagesRead, models.MessagesReadPayload{
		UserID:    c.userID,
		ChatID:    chatID.Hex(),
		MessageID: payload.MessageID,
		ReadAt:    now.Unix(),
	}))
}

// handleChatHistory returns one page of messages. Pages walk backwards from
// the newest message but each page is delivered oldest-first.
func (s *Socket) handleChatHistory(ctx context.Context, c *socketClient, data json.RawMessage) {
	var payload models.ChatHistoryPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "get_chat_history needs a chatId"))
		return
	}
	chatID, err := primitive.ObjectIDFromHex(payload.ChatID)
	if err != nil {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed chat id"))
		return
	}
	if _, err := s.Rooms.Member(ctx, chatID, c.userID); err != nil {
		s.sendError(c, chat.AsChatError(err))
		return
	}
	room, err := s.Rooms.ChatDB.FindOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		s.sendError(c, chat.NewError(chat.CodeNotFound, "chat not found"))
		return
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	page := payload.Page
	if page < 0 {
		page = 0
	}

	opts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetSkip(int64(page * limit)).
		SetLimit(int64(limit))
	messages, err := s.MessageDB.Find(ctx, bson.M{"chatId": chatID}, opts)
	if err != nil {
		s.sendError(c, chat.NewError(chat.CodePersistenceFailed, "failed to load chat history"))
		return
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	total, err := s.MessageDB.CountDocuments(ctx, bson.M{"chatId": chatID})
	if err != nil {
		total = int64(len(messages))
	}
	if messages == nil {
		messages = []models.Message{}
	}

	c.Enqueue(models.NewSocketEvent(models.EventChatHistory, models.ChatHistoryResponse{
		ChatID:   payload.ChatID,
		Chat:     *room,
		Messages: messages,
		Pagination: models.Pagination{
			Page:       page,
			Limit:      limit,
			TotalCount: total,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}))
}

func (s *Socket) handleCreateChat(ctx context.Context, c *socketClient, data json.RawMessage) {
	var payload models.CreateChatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed create_chat payload"))
		return
	}

	if payload.IsGroup {
		room, err := s.Rooms.CreateGroup(ctx, c.userID, payload.MemberIDs, payload.Name)
		if err != nil {
			s.sendError(c, chat.AsChatError(err))
			return
		}
		c.Enqueue(models.NewSocketEvent(models.EventChatCreated, models.ChatCreatedPayload{Chat: *room}))
		return
	}

	room, existed, err := s.Rooms.FindOrCreateDirect(ctx, c.userID, payload.ReceiverID)
	if err != nil {
		s.sendError(c, chat.AsChatError(err))
		return
	}
	c.Enqueue(models.NewSocketEvent(models.EventChatCreated, models.ChatCreatedPayload{Chat: *room, IsExisting: existed}))
}

func (s *Socket) handleGetChats(ctx context.Context, c *socketClient) {
	chats, err := s.Rooms.ListChats(ctx, c.userID)
	if err != nil {
		s.sendError(c, chat.NewError(chat.CodePersistenceFailed, "failed to load chats"))
		return
	}
	c.Enqueue(models.NewSocketEvent(models.EventChatsList, models.ChatsListPayload{Chats: chats}))
}

func (s *Socket) handleSearchUsers(ctx context.Context, c *socketClient, data json.RawMessage) {
	var payload models.SearchUsersPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Query == "" {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "search_users needs a query"))
		return
	}
	limit := payload.Limit
	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}

	filter := bson.M{
		"_id": bson.M{"$ne": c.userID},
		"$or": []bson.M{
			{"user.name": bson.M{"$regex": payload.Query, "$options": "i"}},
			{"user.username": bson.M{"$regex": payload.Query, "$options": "i"}},
		},
	}
	if len(payload.UserTypes) > 0 {
		filter["user.role"] = bson.M{"$in": payload.UserTypes}
	}

	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.M{"user.name": 1})
	users, err := s.UserDB.Find(ctx, filter, opts)
	if err != nil {
		s.sendError(c, chat.NewError(chat.CodePersistenceFailed, "user search failed"))
		return
	}
	total, err := s.UserDB.CountDocuments(ctx, filter)
	if err != nil {
		total = int64(len(users))
	}

	results := make([]models.UserSearchResult, 0, len(users))
	for _, u := range users {
		results = append(results, models.UserSearchResult{
			ID:             u.ID,
			Name:           u.Details.Name,
			Username:       u.Details.Username,
			ProfilePicture: u.Details.ProfilePicture,
			Role:           u.Details.Role,
			Online:         s.Registry.IsOnline(u.ID),
		})
	}
	c.Enqueue(models.NewSocketEvent(models.EventUsersSearchResult, models.UsersSearchResultsPayload{
		Query: payload.Query,
		Users: results,
		Total: total,
	}))
}

func (s *Socket) handleTyping(ctx context.Context, c *socketClient, data json.RawMessage, typing bool) {
	var payload models.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "typing events need a chatId"))
		return
	}
	chatID, err := primitive.ObjectIDFromHex(payload.ChatID)
	if err != nil {
		s.sendError(c, chat.NewError(chat.CodeValidationFailed, "malformed chat id"))
		return
	}
	if _, err := s.Rooms.Member(ctx, chatID, c.userID); err != nil {
		s.sendError(c, chat.AsChatError(err))
		return
	}

	s.relayToOthers(ctx, c, chatID, models.NewSocketEvent(models.EventUserTyping, models.UserTypingPayload{
		UserID:   c.userID,
		ChatID:   payload.ChatID,
		IsTyping: typing,
	}))
}

func (s *Socket) handleGetOnlineUsers(c *socketClient) {
	c.Enqueue(models.NewSocketEvent(models.EventOnlineUsers, map[string][]string{
		"userIds": s.Registry.OnlineIdentities(),
	}))
}

// relayToOthers sends an event to every live connection of every chat member
// except the origin user.
func (s *Socket) relayToOthers(ctx context.Context, c *socketClient, chatID primitive.ObjectID, event models.SocketEvent) {
	members, err := s.Rooms.MembersOf(ctx, chatID)
	if err != nil {
		zap.S().Warnw("relay membership lookup failed", "chatId", chatID.Hex(), "error", err)
		return
	}
	for _, m := range members {
		if m.UserID == c.userID {
			continue
		}
		for _, conn := range s.Registry.ConnectionsFor(m.UserID) {
			if !conn.Enqueue(event) {
				zap.S().Warnw("dropped relay event for slow connection", "connId", conn.ID())
			}
		}
	}
}
