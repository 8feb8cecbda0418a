package chat

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// Disputes manages tripartite dispute chats: one moderating admin, the
// professional and the agency, each non-admin party on a fixed message
// budget. Status walks ACTIVE -> RESOLVED -> CLOSED; RESOLVED can reopen,
// CLOSED cannot.
type Disputes struct {
	ChatDB   databases.ChatDatabase
	MemberDB databases.ChatMemberDatabase
	UserDB   databases.UserDatabase
	Registry *Registry
	Notifier Notifier

	Now func() time.Time
}

// NewDisputes builds the dispute manager.
func NewDisputes(chatDB databases.ChatDatabase, memberDB databases.ChatMemberDatabase, userDB databases.UserDatabase, registry *Registry, notifier Notifier) *Disputes {
	return &Disputes{
		ChatDB:   chatDB,
		MemberDB: memberDB,
		UserDB:   userDB,
		Registry: registry,
		Notifier: notifier,
		Now:      time.Now,
	}
}

// CreateDisputeParams names the three parties and the per-party budget.
// MaxMessages applies to the professional and the agency only; the admin is
// never budget-limited.
type CreateDisputeParams struct {
	AdminID        string
	ProfessionalID string
	AgencyID       string
	Name           string
	MaxMessages    int
}

// CreateDispute opens a dispute chat in ACTIVE status with exactly three
// members. The three parties must be distinct.
func (d *Disputes) CreateDispute(ctx context.Context, params CreateDisputeParams) (*models.Chat, error) {
	if params.AdminID == "" || params.ProfessionalID == "" || params.AgencyID == "" {
		return nil, NewError(CodeValidationFailed, "a dispute needs an admin, a professional and an agency")
	}
	if params.AdminID == params.ProfessionalID || params.AdminID == params.AgencyID || params.ProfessionalID == params.AgencyID {
		return nil, NewError(CodeValidationFailed, "dispute parties must be distinct")
	}
	if params.MaxMessages <= 0 {
		return nil, NewError(CodeValidationFailed, "dispute message budget must be positive")
	}

	now := primitive.NewDateTimeFromTime(d.Now())
	chat := models.Chat{
		ID:            primitive.NewObjectID(),
		IsGroup:       true,
		IsDisputeChat: true,
		DisputeStatus: models.DisputeActive,
		Name:          params.Name,
		LastActivity:  now,
		CreatedAt:     now,
	}
	if _, err := d.ChatDB.InsertOne(ctx, chat); err != nil {
		return nil, err
	}

	members := []models.ChatMember{
		{UserID: params.AdminID, Role: models.MemberRoleAdmin, MaxMessages: models.UnlimitedMessages},
		{UserID: params.ProfessionalID, Role: models.MemberRoleMember, MaxMessages: params.MaxMessages},
		{UserID: params.AgencyID, Role: models.MemberRoleMember, MaxMessages: params.MaxMessages},
	}
	for _, m := range members {
		m.ID = primitive.NewObjectID()
		m.ChatID = chat.ID
		m.JoinedAt = now
		if _, err := d.MemberDB.InsertOne(ctx, m); err != nil {
			return nil, err
		}
	}

	zap.S().Infow("dispute chat created",
		"chatId", chat.ID.Hex(),
		"adminId", params.AdminID,
		"maxMessages", params.MaxMessages,
	)
	return &chat, nil
}

// ValidateAccess reports whether the identity may still post in the dispute
// and how many messages they have left (-1 when unlimited). Access requires
// membership, ACTIVE status and budget headroom; the admin always has
// headroom.
func (d *Disputes) ValidateAccess(ctx context.Context, userID string, chatID primitive.ObjectID) (bool, int, error) {
	chat, err := d.ChatDB.FindOne(ctx, bson.M{"_id": chatID, "isDisputeChat": true})
	if err != nil {
		return false, 0, NewError(CodeNotFound, "dispute chat not found")
	}

	member, err := d.MemberDB.FindOne(ctx, bson.M{"chatId": chatID, "userId": userID, "exited": false})
	if err != nil {
		return false, 0, nil
	}

	remaining := models.UnlimitedMessages
	if member.MaxMessages != models.UnlimitedMessages {
		remaining = member.MaxMessages - member.MessageCount
		if remaining < 0 {
			remaining = 0
		}
	}

	if chat.DisputeStatus != models.DisputeActive {
		return false, remaining, nil
	}
	if member.QuotaExhausted() {
		return false, 0, nil
	}
	return true, remaining, nil
}

// disputeTransitions is the full transition table. Absence means forbidden.
var disputeTransitions = map[string][]string{
	models.DisputeActive:   {models.DisputeResolved, models.DisputeClosed},
	models.DisputeResolved: {models.DisputeClosed, models.DisputeActive},
	models.DisputeClosed:   {},
}

func transitionAllowed(from, to string) bool {
	for _, s := range disputeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus transitions the dispute. Only the dispute's admin member may
// transition it; RESOLVED stamps resolvedAt, CLOSED stamps closedAt and is
// terminal. Every member is told about the change, over the socket when
// online and through the notifier when not.
func (d *Disputes) UpdateStatus(ctx context.Context, actorID string, chatID primitive.ObjectID, newStatus string) (*models.Chat, error) {
	if newStatus != models.DisputeActive && newStatus != models.DisputeResolved && newStatus != models.DisputeClosed {
		return nil, NewError(CodeValidationFailed, "unknown dispute status")
	}

	chat, err := d.ChatDB.FindOne(ctx, bson.M{"_id": chatID, "isDisputeChat": true})
	if err != nil {
		return nil, NewError(CodeNotFound, "dispute chat not found")
	}

	actor, err := d.MemberDB.FindOne(ctx, bson.M{"chatId": chatID, "userId": actorID, "exited": false})
	if err != nil || actor.Role != models.MemberRoleAdmin {
		return nil, NewError(CodePermissionDenied, "only the dispute admin can change its status")
	}

	if !transitionAllowed(chat.DisputeStatus, newStatus) {
		return nil, NewDisputeError(CodePermissionDenied, "dispute cannot move to "+newStatus, chat.DisputeStatus)
	}

	now := primitive.NewDateTimeFromTime(d.Now())
	set := bson.M{"disputeStatus": newStatus}
	switch newStatus {
	case models.DisputeResolved:
		set["resolvedAt"] = now
	case models.DisputeClosed:
		set["closedAt"] = now
	}
	if _, err := d.ChatDB.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$set": set}); err != nil {
		return nil, err
	}

	chat.DisputeStatus = newStatus
	switch newStatus {
	case models.DisputeResolved:
		chat.ResolvedAt = now
	case models.DisputeClosed:
		chat.ClosedAt = now
	}

	zap.S().Infow("dispute status changed",
		"chatId", chatID.Hex(),
		"status", newStatus,
		"changedBy", actorID,
	)
	d.broadcastStatus(ctx, chat, actorID)
	return chat, nil
}

func (d *Disputes) broadcastStatus(ctx context.Context, chat *models.Chat, actorID string) {
	members, err := d.MemberDB.Find(ctx, bson.M{"chatId": chat.ID, "exited": false})
	if err != nil {
		zap.S().Warnw("dispute broadcast membership lookup failed", "chatId", chat.ID.Hex(), "error", err)
		return
	}

	event := models.NewSocketEvent(models.EventDisputeStatus, models.DisputeStatusPayload{
		ChatID:    chat.ID.Hex(),
		Status:    chat.DisputeStatus,
		ChangedBy: actorID,
	})

	for _, m := range members {
		conns := d.Registry.ConnectionsFor(m.UserID)
		if len(conns) == 0 {
			d.notifyOffline(m.UserID, chat)
			continue
		}
		for _, c := range conns {
			if !c.Enqueue(event) {
				zap.S().Warnw("dropped dispute status for slow connection", "connId", c.ID())
			}
		}
	}
}

func (d *Disputes) notifyOffline(userID string, chat *models.Chat) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultNotifyTimeout)
		defer cancel()

		recipient, err := d.UserDB.FindOne(ctx, bson.M{"_id": userID})
		if err != nil {
			zap.S().Warnw("dispute notify recipient lookup failed", "userId", userID, "error", err)
			return
		}
		d.Notifier.NotifyDisputeStatus(ctx, recipient, chat.ID.Hex(), chat.DisputeStatus)
	}()
}

// ResolutionMetrics summarizes closed disputes for the nightly report.
type ResolutionMetrics struct {
	ClosedCount  int64
	ActiveCount  int64
	AvgHoursOpen float64
}

// Metrics computes dispute counts and the mean hours between creation and
// close over all closed disputes.
func (d *Disputes) Metrics(ctx context.Context) (*ResolutionMetrics, error) {
	active, err := d.ChatDB.CountDocuments(ctx, bson.M{"isDisputeChat": true, "disputeStatus": models.DisputeActive})
	if err != nil {
		return nil, err
	}

	closed, err := d.ChatDB.Find(ctx, bson.M{"isDisputeChat": true, "disputeStatus": models.DisputeClosed})
	if err != nil {
		return nil, err
	}

	metrics := &ResolutionMetrics{ActiveCount: active, ClosedCount: int64(len(closed))}
	if len(closed) == 0 {
		return metrics, nil
	}

	var totalHours float64
	for _, c := range closed {
		opened := c.CreatedAt.Time()
		ended := c.ClosedAt.Time()
		if ended.Before(opened) {
			continue
		}
		totalHours += ended.Sub(opened).Hours()
	}
	metrics.AvgHoursOpen = totalHours / float64(len(closed))
	return metrics, nil
}
