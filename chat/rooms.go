package chat

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// Rooms manages chat-room membership: direct-chat dedup, group creation and
// the annotated chat listing.
type Rooms struct {
	ChatDB    databases.ChatDatabase
	MemberDB  databases.ChatMemberDatabase
	UserDB    databases.UserDatabase
	MessageDB databases.MessageDatabase
}

// NewRooms builds a room manager over the given persistence contracts.
func NewRooms(chatDB databases.ChatDatabase, memberDB databases.ChatMemberDatabase, userDB databases.UserDatabase, messageDB databases.MessageDatabase) *Rooms {
	return &Rooms{ChatDB: chatDB, MemberDB: memberDB, UserDB: userDB, MessageDB: messageDB}
}

// PairKey returns the order-independent direct-chat dedup key for two
// identities.
func PairKey(idA, idB string) string {
	if idB < idA {
		idA, idB = idB, idA
	}
	return idA + ":" + idB
}

// FindOrCreateDirect returns the single direct chat between two identities,
// creating it (with both memberships) on first contact. The second return
// reports whether the chat already existed; lookup is order-independent.
// Creation is an upsert keyed on the pair, so two concurrent first contacts
// cannot produce two chats: the loser of the race reads the winner's chat.
func (r *Rooms) FindOrCreateDirect(ctx context.Context, idA, idB string) (*models.Chat, bool, error) {
	if idA == "" || idB == "" || idA == idB {
		return nil, false, NewError(CodeValidationFailed, "a direct chat needs two distinct members")
	}

	key := PairKey(idA, idB)
	filter := bson.M{"pairKey": key, "isGroup": false, "isDisputeChat": false}
	existing, err := r.ChatDB.FindOne(ctx, filter)
	if err == nil {
		return existing, true, nil
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	chat := models.Chat{
		ID:           primitive.NewObjectID(),
		PairKey:      key,
		LastActivity: now,
		CreatedAt:    now,
	}
	res, err := r.ChatDB.UpdateOne(ctx, filter, bson.M{"$setOnInsert": chat}, options.Update().SetUpsert(true))
	if err != nil {
		return nil, false, err
	}
	if res.UpsertedCount == 0 {
		existing, err := r.ChatDB.FindOne(ctx, filter)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	for _, userID := range []string{idA, idB} {
		if err := r.addMember(ctx, chat.ID, userID, models.MemberRoleMember, models.UnlimitedMessages); err != nil {
			return nil, false, err
		}
	}
	return &chat, false, nil
}

// CreateGroup creates a group chat with the creator as ADMIN and every other
// valid member as MEMBER. A group with zero other members is rejected.
func (r *Rooms) CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name string) (*models.Chat, error) {
	others := make([]string, 0, len(memberIDs))
	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}
	if len(others) == 0 {
		return nil, NewError(CodeValidationFailed, "a group chat needs at least one other member")
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	chat := models.Chat{
		ID:           primitive.NewObjectID(),
		IsGroup:      true,
		Name:         name,
		LastActivity: now,
		CreatedAt:    now,
	}
	if _, err := r.ChatDB.InsertOne(ctx, chat); err != nil {
		return nil, err
	}
	if err := r.addMember(ctx, chat.ID, creatorID, models.MemberRoleAdmin, models.UnlimitedMessages); err != nil {
		return nil, err
	}
	for _, id := range others {
		if err := r.addMember(ctx, chat.ID, id, models.MemberRoleMember, models.UnlimitedMessages); err != nil {
			return nil, err
		}
	}
	return &chat, nil
}

func (r *Rooms) addMember(ctx context.Context, chatID primitive.ObjectID, userID, role string, maxMessages int) error {
	member := models.ChatMember{
		ID:          primitive.NewObjectID(),
		ChatID:      chatID,
		UserID:      userID,
		Role:        role,
		MaxMessages: maxMessages,
		JoinedAt:    primitive.NewDateTimeFromTime(time.Now()),
	}
	_, err := r.MemberDB.InsertOne(ctx, member)
	return err
}

// Member returns the membership row for one user in one chat, or a NOT_FOUND
// chat error.
func (r *Rooms) Member(ctx context.Context, chatID primitive.ObjectID, userID string) (*models.ChatMember, error) {
	member, err := r.MemberDB.FindOne(ctx, bson.M{"chatId": chatID, "userId": userID, "exited": false})
	if err != nil {
		return nil, NewError(CodeNotFound, "you are not a member of this chat")
	}
	return member, nil
}

// MembersOf returns the non-exited members of a chat.
func (r *Rooms) MembersOf(ctx context.Context, chatID primitive.ObjectID) ([]models.ChatMember, error) {
	return r.MemberDB.Find(ctx, bson.M{"chatId": chatID, "exited": false})
}

// ListChats returns the user's chats ordered by last activity descending,
// each annotated with its unread count, last-message preview and, for direct
// chats, the other member's display name and avatar.
func (r *Rooms) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	memberships, err := r.MemberDB.Find(ctx, bson.M{"userId": userID, "exited": false})
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []models.ChatSummary{}, nil
	}

	chatIDs := make([]primitive.ObjectID, 0, len(memberships))
	for _, m := range memberships {
		chatIDs = append(chatIDs, m.ChatID)
	}
	chats, err := r.ChatDB.Find(ctx, bson.M{"_id": bson.M{"$in": chatIDs}, "archived": false})
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, c := range chats {
		summary := models.ChatSummary{Chat: c, DisplayName: c.Name}

		unread, err := r.MessageUnreadCount(ctx, c.ID, userID)
		if err != nil {
			zap.S().Warnw("failed to count unread messages", "chatId", c.ID.Hex(), "error", err)
		}
		summary.UnreadCount = unread

		if last, err := r.lastMessage(ctx, c.ID); err == nil {
			summary.LastMessage = last
		}

		if !c.IsGroup {
			if name, avatar, err := r.directDisplay(ctx, c.ID, userID); err == nil {
				summary.DisplayName = name
				summary.Avatar = avatar
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Chat.LastActivity > summaries[j].Chat.LastActivity
	})
	return summaries, nil
}

// MessageUnreadCount counts messages addressed to userID in chatID that have
// not been read yet.
func (r *Rooms) MessageUnreadCount(ctx context.Context, chatID primitive.ObjectID, userID string) (int64, error) {
	return r.MessageDB.CountDocuments(ctx, bson.M{
		"chatId":     chatID,
		"receiverId": userID,
		"isRead":     false,
	})
}

func (r *Rooms) lastMessage(ctx context.Context, chatID primitive.ObjectID) (*models.Message, error) {
	opts := options.FindOne().SetSort(bson.M{"createdAt": -1})
	return r.MessageDB.FindOne(ctx, bson.M{"chatId": chatID}, opts)
}

func (r *Rooms) directDisplay(ctx context.Context, chatID primitive.ObjectID, userID string) (string, string, error) {
	members, err := r.MembersOf(ctx, chatID)
	if err != nil {
		return "", "", err
	}
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		other, err := r.UserDB.FindOne(ctx, bson.M{"_id": m.UserID})
		if err != nil {
			return "", "", err
		}
		name := other.Details.Name
		if name == "" {
			name = other.Details.Username
		}
		return name, other.Details.ProfilePicture, nil
	}
	return "", "", NewError(CodeNotFound, "direct chat has no other member")
}
