package chat

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// Per-send pipeline states. REJECTED is reachable from every non-terminal
// state; once PERSISTING begins a send can no longer be cancelled.
const (
	StateValidating   = "VALIDATING"
	StateEconomyCheck = "ECONOMY_CHECK"
	StateFiltering    = "FILTERING"
	StateSpamCheck    = "SPAM_CHECK"
	StatePersisting   = "PERSISTING"
	StateDelivered    = "DELIVERED"
	StateRejected     = "REJECTED"
)

const (
	spamLookback         = 5 * time.Minute
	defaultNotifyTimeout = 10 * time.Second
)

// SendRequest is one inbound send-message request. Exactly one of ChatID /
// ReceiverID must be set; OriginConnID names the connection that gets the
// tempId ack.
type SendRequest struct {
	SenderID     string
	ChatID       string
	ReceiverID   string
	Content      string
	MessageType  string
	FileURL      string
	FileName     string
	Premium      bool
	TempID       string
	OriginConnID string
}

// SendResult reports a delivered send.
type SendResult struct {
	Message    models.Message
	Chat       *models.Chat
	CostPoints int64
	State      string
}

// Pipeline orchestrates the send-message flow: validation, permissions,
// quota, rate limit, economy, filtering, spam scoring, the transactional
// commit, fan-out and the offline-notifier trigger. Each gate is hard: the
// first failure short-circuits with a typed reason and no partial side
// effects.
type Pipeline struct {
	Registry  *Registry
	Limiter   *Limiter
	Rooms     *Rooms
	Filter    *Filter
	Detector  *Detector
	UserDB    databases.UserDatabase
	MessageDB databases.MessageDatabase
	ChatDB    databases.ChatDatabase
	MemberDB  databases.ChatMemberDatabase
	Txn       databases.TxnRunner
	Notifier  Notifier

	NotifyTimeout time.Duration
	Now           func() time.Time

	// chatMu serializes commit+fan-out per chat so members observe messages
	// in commit order. Striped by chat ID hash so the lock set stays bounded
	// no matter how many chats a process has touched.
	chatMu [chatLockStripes]sync.Mutex
}

// chatLockStripes sizes the per-chat lock set. Two chats sharing a stripe
// serialize against each other, which is safe, just occasionally slower.
const chatLockStripes = 64

// NewPipeline wires a message pipeline from its collaborators.
func NewPipeline(registry *Registry, limiter *Limiter, rooms *Rooms, filter *Filter, detector *Detector,
	userDB databases.UserDatabase, messageDB databases.MessageDatabase, chatDB databases.ChatDatabase,
	memberDB databases.ChatMemberDatabase, txn databases.TxnRunner, notifier Notifier) *Pipeline {
	return &Pipeline{
		Registry:      registry,
		Limiter:       limiter,
		Rooms:         rooms,
		Filter:        filter,
		Detector:      detector,
		UserDB:        userDB,
		MessageDB:     messageDB,
		ChatDB:        chatDB,
		MemberDB:      memberDB,
		Txn:           txn,
		Notifier:      notifier,
		NotifyTimeout: defaultNotifyTimeout,
		Now:           time.Now,
	}
}

// Send runs one message through every gate and, on success, commits it,
// fans it out to all live room connections and notifies offline members.
// Failures return a *Error; the caller relays code and message to the
// origin connection only.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	// VALIDATING
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Balances and capabilities can change between connects, so the sender
	// snapshot is re-read on every send.
	sender, err := p.UserDB.FindOne(ctx, bson.M{"_id": req.SenderID})
	if err != nil {
		return nil, NewError(CodeNotFound, "sender account not found")
	}

	chat, member, receiverID, err := p.resolveTarget(ctx, sender, req)
	if err != nil {
		return nil, err
	}

	if err := p.checkQuota(sender); err != nil {
		return nil, err
	}

	decision := p.Limiter.Allow(req.SenderID, models.EventSendMessage, Ceiling(sender))
	if !decision.Allowed {
		return nil, NewError(CodeRateLimited, "too many messages, slow down")
	}

	// ECONOMY_CHECK
	cost := MessageCost(sender, req.MessageType, req.Premium)
	if err := CheckBalance(sender, cost); err != nil {
		return nil, err
	}

	// FILTERING degrades content, it never rejects.
	content := p.Filter.Apply(sender, req.Content)

	// SPAM_CHECK
	recent, err := p.recentMessages(ctx, req.SenderID)
	if err != nil {
		zap.S().Warnw("failed to load recent messages for spam scoring", "senderId", req.SenderID, "error", err)
	}
	score := p.Detector.Score(content, recent)
	if score.IsSpam() {
		zap.S().Infow("send rejected as spam",
			"senderId", req.SenderID,
			"confidence", score.Confidence,
			"duplicates", score.Duplicates,
		)
		return nil, NewError(CodeSpamDetected, "message flagged as spam")
	}

	// PERSISTING: from here on the send cannot be cancelled. The per-chat
	// lock makes commit order and fan-out order agree for every member.
	unlock := p.lockChat(chat.ID.Hex())
	defer unlock()

	now := primitive.NewDateTimeFromTime(p.Now())
	msg := models.Message{
		ID:               primitive.NewObjectID(),
		ChatID:           chat.ID,
		SenderID:         req.SenderID,
		ReceiverID:       receiverID,
		Content:          content,
		Type:             req.MessageType,
		FileURL:          req.FileURL,
		FileName:         req.FileName,
		CostPoints:       cost,
		IsPremiumMessage: req.Premium,
		CreatedAt:        now,
	}

	if err := p.commit(ctx, sender, member, &msg, now); err != nil {
		if ce, ok := err.(*Error); ok {
			return nil, ce
		}
		zap.S().Errorw("message commit failed",
			"senderId", req.SenderID,
			"chatId", chat.ID.Hex(),
			"error", err,
		)
		return nil, NewError(CodePersistenceFailed, "message could not be saved")
	}

	// DELIVERED
	p.fanOut(chat, &msg, sender, req)

	return &SendResult{Message: msg, Chat: chat, CostPoints: cost, State: StateDelivered}, nil
}

func validateRequest(req SendRequest) error {
	if req.SenderID == "" {
		return NewError(CodeValidationFailed, "sender is required")
	}
	if (req.ChatID == "") == (req.ReceiverID == "") {
		return NewError(CodeValidationFailed, "exactly one of chatId or receiverId is required")
	}
	if !models.ValidMessageType(req.MessageType) {
		return NewError(CodeValidationFailed, "unknown message type")
	}
	if req.MessageType == models.MessageTypeText && req.Content == "" {
		return NewError(CodeValidationFailed, "message content is required")
	}
	if req.MessageType != models.MessageTypeText && req.FileURL == "" {
		return NewError(CodeValidationFailed, "file messages need a file url")
	}
	return nil
}

// resolveTarget finds or creates the destination chat and checks existence,
// membership, permission and dispute gates. For direct sends the permission
// gates run before the chat is created so a rejected send leaves nothing
// behind.
func (p *Pipeline) resolveTarget(ctx context.Context, sender *models.User, req SendRequest) (*models.Chat, *models.ChatMember, string, error) {
	if err := p.checkTypePermission(sender, req); err != nil {
		return nil, nil, "", err
	}

	if req.ReceiverID != "" {
		receiver, err := p.UserDB.FindOne(ctx, bson.M{"_id": req.ReceiverID})
		if err != nil {
			return nil, nil, "", NewError(CodeNotFound, "recipient not found")
		}
		if err := checkDirectPermission(sender, receiver); err != nil {
			return nil, nil, "", err
		}
		chat, _, err := p.Rooms.FindOrCreateDirect(ctx, sender.ID, receiver.ID)
		if err != nil {
			return nil, nil, "", err
		}
		member, err := p.Rooms.Member(ctx, chat.ID, sender.ID)
		if err != nil {
			return nil, nil, "", err
		}
		return chat, member, receiver.ID, nil
	}

	chatID, err := primitive.ObjectIDFromHex(req.ChatID)
	if err != nil {
		return nil, nil, "", NewError(CodeValidationFailed, "malformed chat id")
	}
	chat, err := p.ChatDB.FindOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		return nil, nil, "", NewError(CodeNotFound, "chat not found")
	}
	member, err := p.Rooms.Member(ctx, chat.ID, sender.ID)
	if err != nil {
		return nil, nil, "", err
	}

	receiverID := ""
	if !chat.IsGroup && !chat.IsDisputeChat {
		members, err := p.Rooms.MembersOf(ctx, chat.ID)
		if err == nil {
			for _, m := range members {
				if m.UserID != sender.ID {
					receiverID = m.UserID
					break
				}
			}
		}
		if receiverID != "" {
			receiver, err := p.UserDB.FindOne(ctx, bson.M{"_id": receiverID})
			if err == nil {
				if err := checkDirectPermission(sender, receiver); err != nil {
					return nil, nil, "", err
				}
			}
		}
	}

	if chat.IsDisputeChat {
		if err := checkDisputeGates(chat, member); err != nil {
			return nil, nil, "", err
		}
	}
	return chat, member, receiverID, nil
}

func (p *Pipeline) checkTypePermission(sender *models.User, req SendRequest) error {
	caps := sender.Details.Capabilities
	switch req.MessageType {
	case models.MessageTypeImage:
		if !caps.CanSendImage {
			return NewError(CodePermissionDenied, "your plan does not allow image messages")
		}
	case models.MessageTypeAudio:
		if !caps.CanSendVoice {
			return NewError(CodePermissionDenied, "your plan does not allow voice messages")
		}
	case models.MessageTypeVideo:
		if !caps.CanSendVideo {
			return NewError(CodePermissionDenied, "your plan does not allow video messages")
		}
	case models.MessageTypeFile:
		if !caps.CanSendFile {
			return NewError(CodePermissionDenied, "your plan does not allow file messages")
		}
	}
	if req.Premium && !caps.PremiumMessages {
		return NewError(CodePermissionDenied, "your plan does not allow premium messages")
	}
	return nil
}

func checkDirectPermission(sender, receiver *models.User) error {
	if !receiver.Details.AllowsDirectMessages {
		return NewError(CodePermissionDenied, "this user does not accept direct messages")
	}
	if receiver.HasBlocked(sender.ID) {
		return NewError(CodePermissionDenied, "you cannot message this user")
	}
	if sender.HasBlocked(receiver.ID) {
		return NewError(CodePermissionDenied, "unblock this user to message them")
	}
	return nil
}

func checkDisputeGates(chat *models.Chat, member *models.ChatMember) error {
	if chat.DisputeStatus != models.DisputeActive {
		return NewDisputeError(CodePermissionDenied, "this dispute no longer accepts messages", chat.DisputeStatus)
	}
	if member.QuotaExhausted() {
		return NewDisputeError(CodeQuotaExceeded, "you have used all your messages in this dispute", chat.DisputeStatus)
	}
	return nil
}

// checkQuota enforces the metered daily allowance. Counters belong to a
// local calendar day; a counter stamped with an older day reads as zero.
func (p *Pipeline) checkQuota(sender *models.User) error {
	limit := sender.DailyLimit()
	if limit < 0 {
		return nil
	}
	if sender.Details.DailyCounterDay != p.dayKey() {
		return nil
	}
	if sender.Details.DailyMessagesUsed >= limit {
		return NewError(CodeDailyLimitReached, "daily message limit reached")
	}
	return nil
}

func (p *Pipeline) dayKey() string {
	return p.Now().Local().Format("2006-01-02")
}

func (p *Pipeline) recentMessages(ctx context.Context, senderID string) ([]models.Message, error) {
	cutoff := primitive.NewDateTimeFromTime(p.Now().Add(-spamLookback))
	opts := options.Find().SetSort(bson.M{"createdAt": -1}).SetLimit(200)
	return p.MessageDB.Find(ctx, bson.M{"senderId": senderID, "createdAt": bson.M{"$gte": cutoff}}, opts)
}

// commit persists the message, debits the balance, bumps the daily counter,
// the member message count and the chat's last activity in one transaction.
// All writes land or none do; a message is never visible without its debit.
// The debit filter re-checks the balance so two concurrent sends racing past
// the pre-check cannot drive it negative; a miss aborts the transaction.
func (p *Pipeline) commit(ctx context.Context, sender *models.User, member *models.ChatMember, msg *models.Message, now primitive.DateTime) error {
	dayKey := p.dayKey()
	return p.Txn.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := p.MessageDB.InsertOne(txCtx, *msg); err != nil {
			return err
		}

		userFilter := bson.M{"_id": sender.ID}
		if msg.CostPoints > 0 {
			userFilter["user.points"] = bson.M{"$gte": msg.CostPoints}
		}
		userUpdate := bson.M{
			"$inc": bson.M{
				"user.points":      -msg.CostPoints,
				"user.pointsSpent": msg.CostPoints,
			},
		}
		if sender.Details.DailyCounterDay == dayKey {
			userUpdate["$inc"].(bson.M)["user.dailyMessagesUsed"] = 1
		} else {
			userUpdate["$set"] = bson.M{
				"user.dailyMessagesUsed": 1,
				"user.dailyCounterDay":   dayKey,
			}
		}
		res, err := p.UserDB.UpdateOne(txCtx, userFilter, userUpdate)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return NewError(CodeInsufficientPoint, "not enough points to send this message")
		}

		if _, err := p.MemberDB.UpdateOne(txCtx, bson.M{"_id": member.ID}, bson.M{"$inc": bson.M{"messageCount": 1}}); err != nil {
			return err
		}

		_, err = p.ChatDB.UpdateOne(txCtx, bson.M{"_id": msg.ChatID}, bson.M{"$set": bson.M{"lastActivity": now}})
		return err
	})
}

// fanOut emits the committed message to every live connection of every chat
// member. The sender's connections get the message_sent ack (tempId echo);
// everyone else gets new_message. Members with no live connection are handed
// to the notifier, fire-and-forget with a bounded timeout so a slow notifier
// never delays delivery to online members.
func (p *Pipeline) fanOut(chat *models.Chat, msg *models.Message, sender *models.User, req SendRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	members, err := p.Rooms.MembersOf(ctx, chat.ID)
	if err != nil {
		zap.S().Errorw("fan-out membership lookup failed", "chatId", chat.ID.Hex(), "error", err)
		return
	}

	ack := models.NewSocketEvent(models.EventMessageSent, models.MessageSentPayload{
		ID:         msg.ID.Hex(),
		ChatID:     msg.ChatID.Hex(),
		TempID:     req.TempID,
		PointsUsed: msg.CostPoints,
	})
	envelope := models.NewSocketEvent(models.EventNewMessage, msg)

	senderName := sender.Details.Name
	if senderName == "" {
		senderName = sender.Details.Username
	}

	for _, m := range members {
		if m.UserID == sender.ID {
			for _, c := range p.Registry.ConnectionsFor(m.UserID) {
				if !c.Enqueue(ack) {
					zap.S().Warnw("dropped ack for slow connection", "connId", c.ID())
				}
			}
			continue
		}

		conns := p.Registry.ConnectionsFor(m.UserID)
		if len(conns) == 0 {
			p.notifyOffline(m.UserID, senderName, msg)
			continue
		}
		for _, c := range conns {
			if !c.Enqueue(envelope) {
				zap.S().Warnw("dropped message for slow connection", "connId", c.ID(), "chatId", chat.ID.Hex())
			}
		}
	}
}

func (p *Pipeline) notifyOffline(userID, senderName string, msg *models.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.NotifyTimeout)
		defer cancel()

		recipient, err := p.UserDB.FindOne(ctx, bson.M{"_id": userID})
		if err != nil {
			zap.S().Warnw("offline notify recipient lookup failed", "userId", userID, "error", err)
			return
		}
		p.Notifier.NotifyNewMessage(ctx, recipient, senderName, msg.Content, msg.ChatID.Hex())
	}()
}

func (p *Pipeline) lockChat(chatID string) func() {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	mu := &p.chatMu[h.Sum32()%chatLockStripes]
	mu.Lock()
	return mu.Unlock
}
